package rpc

import (
	"context"
	"fmt"

	"github.com/cuemby/fleetlb/pkg/placement"
	"github.com/cuemby/fleetlb/pkg/types"
	"google.golang.org/protobuf/types/known/structpb"
)

// PlacementServer implements PlacementServiceServer over a broker's local
// placement.Pipeline.
type PlacementServer struct {
	pipeline *placement.Pipeline
}

// NewPlacementServer wraps pipeline as a gRPC-reachable PlacementService.
func NewPlacementServer(pipeline *placement.Pipeline) *PlacementServer {
	return &PlacementServer{pipeline: pipeline}
}

func (s *PlacementServer) SelectBrokerForAssignment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	unit := types.ServiceUnit{
		Namespace: fields["namespace"].GetStringValue(),
		BundleRange: fields["bundle_range"].GetStringValue(),
	}

	broker, err := s.pipeline.SelectBrokerForAssignment(ctx, unit)
	if err != nil {
		return nil, fmt.Errorf("rpc: select broker for %s: %w", unit.BundleKey(), err)
	}

	return structpb.NewStruct(map[string]interface{}{"broker": broker})
}
