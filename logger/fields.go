package logger

// Standard field key constants for structured logging.
const (
	FieldService    = "service"
	FieldComponent  = "component"
	FieldOperation  = "operation"
	FieldStatus     = "status"
	FieldError      = "error"
	FieldDuration   = "duration_ms"
	FieldPipelineID = "pipeline_id"
	FieldStepID     = "step_id"
	FieldStepType   = "step_type"
	FieldStepOrder  = "step_order"
	FieldModel      = "model"
	FieldAttempt    = "attempt"
	FieldCostCents  = "cost_cents"
)

// Fields builds a map[string]interface{} from alternating key-value pairs.
//
//	logger.Info("step done", logger.Fields("step_id", id, "attempt", 2))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i < len(kvs)-1; i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// ErrorFields creates fields for an operation that failed.
func ErrorFields(op string, err error) map[string]interface{} {
	return map[string]interface{}{
		FieldOperation: op,
		FieldError:     err.Error(),
	}
}
