package pipeline

import "testing"

func TestStageExecutionValidate(t *testing.T) {
	se := StageExecution{ExecutionID: "e1", StageID: "s1", Attempt: 1, MaxAttempts: 3}
	if err := se.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStageExecutionValidateAttemptExceedsMax(t *testing.T) {
	se := StageExecution{ExecutionID: "e1", StageID: "s1", Attempt: 4, MaxAttempts: 3}
	if err := se.Validate(); err == nil {
		t.Fatal("expected error when attempt exceeds max_attempts")
	}
}

func TestStageExecutionExhaustedRetries(t *testing.T) {
	se := StageExecution{ExecutionID: "e1", StageID: "s1", Attempt: 3, MaxAttempts: 3}
	if !se.ExhaustedRetries() {
		t.Fatal("expected retries exhausted when attempt equals max_attempts")
	}

	se.Attempt = 2
	if se.ExhaustedRetries() {
		t.Fatal("did not expect retries exhausted when attempt is below max_attempts")
	}
}
