/*
Package server is the gRPC health service of the coordinator. The load
balancers and orchestrators check the liveness of the process with the
standard grpc.health.v1 protocol.
*/
package server

import (
	"fmt"
	"net"

	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the health service name of the coordinator.
const Service = "findy.exchange.Coordinator"

// Server serves the health service.
type Server struct {
	rpc    *grpc.Server
	health *health.Server
}

func New() *Server {
	s := &Server{
		rpc:    grpc.NewServer(),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.rpc, s.health)
	s.SetServing(true)
	return s
}

// Start listens the port and serves in the background.
func (s *Server) Start(port int) (err error) {
	defer err2.Handle(&err, "start grpc health server")

	lis := try.To1(net.Listen("tcp", fmt.Sprintf(":%d", port)))
	glog.V(1).Infoln("gRPC health service on port:", port)
	go func() {
		if err := s.Serve(lis); err != nil {
			glog.Errorln("grpc serve:", err)
		}
	}()
	return nil
}

// Serve serves the listener. It blocks until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.rpc.Serve(lis)
}

// SetServing sets the status of the coordinator and the server as a whole.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(Service, st)
	glog.V(3).Infoln("health status:", st)
}

// Stop reports NOT_SERVING to the watchers and stops the server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.rpc.GracefulStop()
}
