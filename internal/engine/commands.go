package engine

import (
	"context"
	"fmt"

	"github.com/transitlive/livemap/internal/renderer/stream"
	"github.com/transitlive/livemap/pkg/core"
)

// HandleCommand applies a user action from the map. Visibility edits are
// persisted by the controller and reach the map through the reconcile lane.
func (e *Engine) HandleCommand(cmd stream.Command) error {
	ctx := context.Background()
	switch cmd.Type {
	case stream.CommandSetActive:
		if cmd.Identity == "" {
			return fmt.Errorf("set_active needs an identity")
		}
		e.visibility.SetActive(ctx, cmd.Identity, cmd.Active)
	case stream.CommandToggleType:
		t := core.NormalizeVehicleType(cmd.VehicleType)
		if t == core.VehicleUnknown && cmd.VehicleType != string(core.VehicleUnknown) {
			return fmt.Errorf("unknown vehicle type %q", cmd.VehicleType)
		}
		ids := e.visibility.ToggleType(ctx, t, cmd.Active, e.reconciler)
		e.logger.Info("Vehicle type toggled", "type", t, "active", cmd.Active, "vehicles", len(ids))
	case stream.CommandDismiss:
		e.status.Dismiss()
	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
	return nil
}
