/*
Copyright 2021.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command agent is the per-node daemon: registration endpoint, discovery
// sessions, device plugin endpoints, and the slot sweep reconciler, wired
// together as one oklog/run.Group.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/kelseyhightower/envconfig"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	v0 "github.com/project-akri/akri-sub000/api/discovery/v0"
	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/agent/configwatcher"
	"github.com/project-akri/akri-sub000/internal/agent/deviceplugin"
	"github.com/project-akri/akri-sub000/internal/agent/discovery"
	"github.com/project-akri/akri-sub000/internal/agent/runtimeinspect"
	"github.com/project-akri/akri-sub000/internal/agent/slots"
	"github.com/project-akri/akri-sub000/internal/metrics"
	"github.com/project-akri/akri-sub000/internal/store"
)

// Config is the Agent's process configuration, populated from the
// environment via envconfig.
type Config struct {
	NodeName           string        `envconfig:"NODE_NAME" required:"true"`
	Namespace          string        `envconfig:"NAMESPACE" default:"akri"`
	RegistrationSocket string        `envconfig:"REGISTRATION_SOCKET" default:"/var/lib/akri/agent-registration.sock"`
	DevicePluginDir    string        `envconfig:"DEVICE_PLUGIN_DIR" default:"/var/lib/kubelet/device-plugins"`
	CRIEndpoint        string        `envconfig:"CRI_ENDPOINT" default:"unix:///run/containerd/containerd.sock"`
	MetricsAddr        string        `envconfig:"METRICS_ADDR" default:":8080"`
	SweepInterval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"5s"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("akri_agent", &cfg); err != nil {
		klog.Errorf("unable to parse configuration: %v", err)
		os.Exit(1)
	}

	zapLog, err := zap.NewProduction()
	if err != nil {
		klog.Errorf("unable to construct zap logger: %v", err)
		os.Exit(1)
	}
	log := zapr.NewLogger(zapLog)
	ctrl.SetLogger(log)

	logrusLog := logrus.New()
	logrusLog.SetFormatter(&logrus.JSONFormatter{})

	mgrConfig := ctrl.GetConfigOrDie()
	// The manager's own metrics bind address is disabled (Metrics.BindAddress
	// "0"): Agent and Controller both serve /metrics themselves on
	// cfg.MetricsAddr via promhttp rather than through controller-runtime's
	// built-in metrics server.
	mgr, err := ctrl.NewManager(mgrConfig, ctrl.Options{Metrics: metricsserver.Options{BindAddress: "0"}})
	if err != nil {
		klog.Errorf("unable to start manager: %v", err)
		os.Exit(1)
	}
	if err := akriv1alpha1.AddToScheme(mgr.GetScheme()); err != nil {
		klog.Errorf("unable to add scheme: %v", err)
		os.Exit(1)
	}

	s := store.New(mgr.GetClient())

	criInspector, err := runtimeinspect.NewCRIInspector(cfg.CRIEndpoint, log.WithName("runtimeinspect"))
	if err != nil {
		klog.Errorf("unable to dial container runtime: %v", err)
		os.Exit(1)
	}
	defer criInspector.Close()

	arbiter := slots.NewArbiter(s, criInspector, cfg.NodeName, log.WithName("slots"))
	dpManager := deviceplugin.NewManager(s, arbiter, cfg.NodeName, cfg.DevicePluginDir, log.WithName("deviceplugin"))
	registry := discovery.NewRegistry(logrusLog.WithField("component", "discovery-registry"))
	watcher := configwatcher.NewWatcher(cfg.Namespace, cfg.NodeName, s, registry, dpManager, logrusLog.WithField("component", "configwatcher"))

	ctx, cancel := context.WithCancel(context.Background())
	var g run.Group

	// Termination handler.
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	// Manager (cache, client, leader-election-free for the Agent).
	g.Add(func() error {
		return mgr.Start(ctx)
	}, func(error) { cancel() })

	// Registration endpoint.
	g.Add(func() error {
		return serveRegistrationEndpoint(ctx, cfg.RegistrationSocket, registry, logrusLog)
	}, func(error) { cancel() })

	// Configuration watcher, driven off the manager's Configuration informer.
	configEvents := make(chan store.ConfigurationEvent, 64)
	g.Add(func() error {
		if err := store.WatchConfigurations(ctx, mgr.GetCache(), log.WithName("watch"), configEvents); err != nil {
			return err
		}
		return watcher.Run(ctx, configEvents)
	}, func(error) { cancel() })

	// Sweep reconciler.
	g.Add(func() error {
		return slots.Run(ctx, arbiter, cfg.Namespace, cfg.SweepInterval)
	}, func(error) { cancel() })

	// Metrics server.
	g.Add(func() error {
		return serveMetrics(ctx, cfg.MetricsAddr)
	}, func(error) { cancel() })

	if err := g.Run(); err != nil {
		logrusLog.WithError(err).Error("agent exited with error")
		os.Exit(1)
	}
}

func serveRegistrationEndpoint(ctx context.Context, socketPath string, registry *discovery.Registry, log logrus.FieldLogger) error {
	_ = os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}

	server := grpc.NewServer()
	v0.RegisterRegistrationServer(server, discovery.NewRegistrationServer(registry, log))

	go func() {
		<-ctx.Done()
		server.GracefulStop()
	}()

	go func() {
		if err := registry.Run(ctx); err != nil {
			log.WithError(err).Error("registry loop exited")
		}
	}()

	return server.Serve(listener)
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
