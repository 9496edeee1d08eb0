package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{StateStarting, false},
		{StateRunning, false},
		{StateCompleted, true},
		{StateStopped, true},
		{StateError, true},
		{"unknown", false},
	}

	for _, tt := range tests {
		if got := IsTerminal(tt.state); got != tt.want {
			t.Errorf("IsTerminal(%q) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestSessionConfigLossLimit(t *testing.T) {
	cfg := SessionConfig{MaxBudget: 100, LossThresholdPercent: 0.8}
	if got := cfg.LossLimit(); got != -80 {
		t.Errorf("LossLimit() = %v, want -80", got)
	}
}

// Credential не должен утекать во внешнее представление
func TestViewStripsCredential(t *testing.T) {
	cfg := SessionConfig{
		SessionID:            "s-1",
		OwnerID:              "owner-1",
		MaxBudget:            50,
		ProfitGoal:           10,
		MaxPositions:         3,
		LossThresholdPercent: 0.8,
		AccountMode:          AccountModeDriven,
		CredentialRef:        "vault://super-secret-key",
		CreatedAt:            time.Now(),
	}
	st := SessionStatus{SessionID: "s-1", State: StateRunning, Pnl: 1.5}

	data, err := json.Marshal(View(cfg, st))
	if err != nil {
		t.Fatalf("marshal view: %v", err)
	}

	if strings.Contains(string(data), "super-secret-key") {
		t.Errorf("credential leaked into serialized view: %s", data)
	}
	if !strings.Contains(string(data), `"state":"running"`) {
		t.Errorf("status missing from view: %s", data)
	}
}

func TestIsDriven(t *testing.T) {
	driven := SessionConfig{AccountMode: AccountModeDriven}
	reflective := SessionConfig{AccountMode: AccountModeReflective}

	if !driven.IsDriven() {
		t.Error("driven config reported as not driven")
	}
	if reflective.IsDriven() {
		t.Error("reflective config reported as driven")
	}
}

// Методы конфигурации вызываются на копиях из sess.Config(),
// неадресуемое возвращаемое значение должно их принимать
func TestConfigMethodsOnReturnedCopy(t *testing.T) {
	mk := func() SessionConfig {
		return SessionConfig{
			AccountMode:          AccountModeDriven,
			MaxBudget:            100,
			LossThresholdPercent: 0.5,
		}
	}

	if !mk().IsDriven() {
		t.Error("IsDriven on returned copy = false, want true")
	}
	if got := mk().LossLimit(); got != -50 {
		t.Errorf("LossLimit on returned copy = %v, want -50", got)
	}
}
