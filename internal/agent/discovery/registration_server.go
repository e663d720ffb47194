package discovery

import (
	"context"

	"github.com/sirupsen/logrus"

	v0 "github.com/project-akri/akri-sub000/api/discovery/v0"
)

// RegistrationServer implements api/discovery/v0's Registration service,
// serving a single RPC that forwards into the Registry's command channel.
type RegistrationServer struct {
	v0.UnimplementedRegistrationServer

	registry *Registry
	log      logrus.FieldLogger
}

func NewRegistrationServer(registry *Registry, log logrus.FieldLogger) *RegistrationServer {
	return &RegistrationServer{registry: registry, log: log}
}

func (s *RegistrationServer) Register(ctx context.Context, req *v0.RegisterRequest) (*v0.Empty, error) {
	s.log.WithFields(logrus.Fields{
		"protocol": req.GetProtocol(),
		"endpoint": req.GetEndpoint(),
		"is_local": req.GetIsLocal(),
	}).Info("received discovery handler registration")
	s.registry.Register(ctx, req.GetProtocol(), req.GetEndpoint(), req.GetIsLocal())
	return &v0.Empty{}, nil
}
