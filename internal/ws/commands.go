package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kments/marblerace-backend/internal/session"
	"github.com/kments/marblerace-backend/internal/sim"
)

// envelope is the inbound command frame; Data stays raw until the command
// type picks its payload shape.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var errManagerOnly = errors.New("ws: command requires the room manager")

type setMarblesData struct {
	Names []string `json:"names"`
}

type setWinningRankData struct {
	Rank int `json:"rank"`
}

type setMapData struct {
	Index int `json:"index"`
}

type setSpeedData struct {
	Speed float64 `json:"speed"`
}

type useSkillData struct {
	Type  string          `json:"type"`
	X     float64         `json:"x"`
	Y     float64         `json:"y"`
	Extra json.RawMessage `json:"extra"`
}

// dispatch routes one inbound command to the session manager. Commands for
// a room are handled on this client's read goroutine; the room lock inside
// the manager serializes them against loop ticks.
func (h *Hub) dispatch(c *client, env envelope) error {
	ctx := context.Background()

	switch env.Type {
	case "set_marbles":
		if !c.isManager {
			return errManagerOnly
		}
		var data setMarblesData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %v", session.ErrInvalidArgument, err)
		}
		return h.manager.SetMarbles(ctx, c.roomID, data.Names)

	case "set_winning_rank":
		if !c.isManager {
			return errManagerOnly
		}
		var data setWinningRankData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %v", session.ErrInvalidArgument, err)
		}
		return h.manager.SetWinningRank(ctx, c.roomID, data.Rank)

	case "set_map":
		if !c.isManager {
			return errManagerOnly
		}
		var data setMapData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %v", session.ErrInvalidArgument, err)
		}
		return h.manager.SetMap(ctx, c.roomID, data.Index)

	case "set_speed":
		if !c.isManager {
			return errManagerOnly
		}
		var data setSpeedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %v", session.ErrInvalidArgument, err)
		}
		return h.manager.SetSpeed(ctx, c.roomID, data.Speed)

	case "start":
		if !c.isManager {
			return errManagerOnly
		}
		return h.manager.StartGame(ctx, c.roomID)

	case "end":
		if !c.isManager {
			return errManagerOnly
		}
		return h.manager.EndGame(ctx, c.roomID)

	case "reset":
		if !c.isManager {
			return errManagerOnly
		}
		return h.manager.ResetGame(ctx, c.roomID)

	case "use_skill":
		var data useSkillData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %v", session.ErrInvalidArgument, err)
		}
		req, err := buildSkillRequest(c, data)
		if err != nil {
			return err
		}
		return h.manager.UseSkill(c.roomID, req)

	default:
		return fmt.Errorf("%w: unknown command %q", session.ErrInvalidArgument, env.Type)
	}
}

// buildSkillRequest decodes the kind-specific extra payload into its typed
// variant before dispatch.
func buildSkillRequest(c *client, data useSkillData) (session.SkillRequest, error) {
	req := session.SkillRequest{
		Type:   sim.SkillType(data.Type),
		X:      data.X,
		Y:      data.Y,
		Caller: c.name,
	}
	switch req.Type {
	case sim.SkillImpact:
		req.Extra = session.ImpactExtra{}
	case sim.SkillDummy:
		extra := session.DummyExtra{Label: c.name}
		if len(data.Extra) > 0 {
			var raw struct {
				Label string `json:"label"`
			}
			if err := json.Unmarshal(data.Extra, &raw); err != nil {
				return req, fmt.Errorf("%w: %v", session.ErrInvalidArgument, err)
			}
			if raw.Label != "" {
				extra.Label = raw.Label
			}
		}
		req.Extra = extra
	default:
		return req, fmt.Errorf("%w: %q", session.ErrInvalidSkill, data.Type)
	}
	return req, nil
}
