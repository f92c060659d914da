package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/kments/marblerace-backend/internal/session"
	"github.com/kments/marblerace-backend/internal/sim"
)

func TestBuildSkillRequest(t *testing.T) {
	c := &client{name: "alice"}

	req, err := buildSkillRequest(c, useSkillData{Type: "impact", X: 3, Y: 4})
	if err != nil {
		t.Fatalf("impact: %v", err)
	}
	if req.Type != sim.SkillImpact || req.X != 3 || req.Y != 4 || req.Caller != "alice" {
		t.Errorf("impact request: %+v", req)
	}
	if _, ok := req.Extra.(session.ImpactExtra); !ok {
		t.Errorf("impact extra type: %T", req.Extra)
	}

	// Dummy defaults the label to the caller's name.
	req, err = buildSkillRequest(c, useSkillData{Type: "dummy"})
	if err != nil {
		t.Fatalf("dummy: %v", err)
	}
	if extra, ok := req.Extra.(session.DummyExtra); !ok || extra.Label != "alice" {
		t.Errorf("dummy extra: %+v", req.Extra)
	}

	// An explicit label wins over the caller name.
	req, err = buildSkillRequest(c, useSkillData{Type: "dummy", Extra: json.RawMessage(`{"label":"bob"}`)})
	if err != nil {
		t.Fatalf("dummy with label: %v", err)
	}
	if extra := req.Extra.(session.DummyExtra); extra.Label != "bob" {
		t.Errorf("label not applied: %+v", extra)
	}

	if _, err := buildSkillRequest(c, useSkillData{Type: "warp"}); !errors.Is(err, session.ErrInvalidSkill) {
		t.Errorf("unknown skill: %v", err)
	}
}

func TestErrorPayloadCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("%w: room 7", session.ErrRoomNotFound), "not_found"},
		{fmt.Errorf("%w: running", session.ErrConflict), "conflict"},
		{fmt.Errorf("%w: rank -1", session.ErrInvalidArgument), "invalid_argument"},
		{fmt.Errorf("%w: %q", session.ErrInvalidSkill, "warp"), "invalid_argument"},
		{errManagerOnly, "forbidden"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := errorPayload("cmd", tt.err); got.Code != tt.code {
			t.Errorf("errorPayload(%v).Code = %q, want %q", tt.err, got.Code, tt.code)
		}
	}
}
