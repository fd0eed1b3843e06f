package workerpool

import "github.com/ImPhilipGlover/EntropicGarden-sub010/internal/wireformat"

// These builders are the "thin adapters" the spec calls for:
// execute_vsa_batch, ann_search, and the vector index mutations all build a
// well-known task shape rather than hand-assembling a map at every call
// site (see §4.6/§6.2).

// SharedMemoryTask builds the task shape the worker runtime uses to
// allocate or release a segment it owns, as opposed to segments the bridge
// allocates directly via internal/shm.
func SharedMemoryTask(memoryOperation string, size int64, name string) wireformat.Task {
	params := map[string]any{"memory_operation": memoryOperation}
	if size > 0 {
		params["size"] = float64(size)
	}
	if name != "" {
		params["name"] = name
	}
	return wireformat.NewTask("shared_memory", params)
}

// VSABatchTask builds a batched vector-symbolic-architecture operation
// task. batchSize counts the logical operations packed into the single
// transport payload referenced by inputShm/outputShm.
func VSABatchTask(operationName string, batchSize int, inputShm, outputShm string) wireformat.Task {
	return wireformat.NewTask("vsa_batch", map[string]any{
		"operation_name": operationName,
		"batch_size":     float64(batchSize),
		"input_shm":      inputShm,
		"output_shm":     outputShm,
	})
}

// ANNSearchTask builds an approximate-nearest-neighbor query task.
func ANNSearchTask(k int, similarityThreshold float64, queryShm, resultsShm string) wireformat.Task {
	return wireformat.NewTask("ann_search", map[string]any{
		"k":                   float64(k),
		"similarity_threshold": similarityThreshold,
		"query_shm":           queryShm,
		"results_shm":         resultsShm,
	})
}

// VectorOperationConfig carries the nested "config" object the vector index
// mutation tasks require.
type VectorOperationConfig struct {
	OID       string
	IndexName string
	VectorShm string
}

// VectorOperationTask builds an index-mutation task: add/update/remove a
// vector identified by vectorID.
func VectorOperationTask(action, vectorOperation string, vectorID int64, cfg VectorOperationConfig) wireformat.Task {
	config := map[string]any{
		"oid":        cfg.OID,
		"index_name": cfg.IndexName,
	}
	if cfg.VectorShm != "" {
		config["vector_shm"] = cfg.VectorShm
	}
	return wireformat.NewTask("vector_operations", map[string]any{
		"action":           action,
		"vector_operation": vectorOperation,
		"vector_id":        float64(vectorID),
		"config":           config,
	})
}
