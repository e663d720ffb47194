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

// Command controller is the cluster-singleton reconciler: broker Pod/Service
// desired-state from Instance records, and node-loss repair.
package main

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/kelseyhightower/envconfig"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/controller"
	"github.com/project-akri/akri-sub000/internal/metrics"
	"github.com/project-akri/akri-sub000/internal/store"
)

// Config is the Controller's process configuration.
type Config struct {
	Namespace        string `envconfig:"NAMESPACE" default:"akri"`
	MetricsAddr      string `envconfig:"METRICS_ADDR" default:":8080"`
	LeaderElection   bool   `envconfig:"LEADER_ELECTION" default:"true"`
	LeaderElectionID string `envconfig:"LEADER_ELECTION_ID" default:"akri-controller-lock"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("akri_controller", &cfg); err != nil {
		klogFatalf("unable to parse configuration: %v", err)
	}

	zapLog, err := zap.NewProduction()
	if err != nil {
		klogFatalf("unable to construct zap logger: %v", err)
	}
	log := zapr.NewLogger(zapLog)
	ctrl.SetLogger(log)

	logrusLog := logrus.New()
	logrusLog.SetFormatter(&logrus.JSONFormatter{})

	mgrConfig := ctrl.GetConfigOrDie()
	mgr, err := ctrl.NewManager(mgrConfig, ctrl.Options{
		Metrics:                 metricsserver.Options{BindAddress: "0"},
		LeaderElection:          cfg.LeaderElection,
		LeaderElectionID:        cfg.LeaderElectionID,
		LeaderElectionNamespace: cfg.Namespace,
	})
	if err != nil {
		klogFatalf("unable to start manager: %v", err)
	}
	if err := akriv1alpha1.AddToScheme(mgr.GetScheme()); err != nil {
		klogFatalf("unable to add scheme: %v", err)
	}

	s := store.New(mgr.GetClient())

	instanceReconciler := &controller.InstanceReconciler{
		Client:    mgr.GetClient(),
		Store:     s,
		Namespace: cfg.Namespace,
		Log:       logrusLog.WithField("controller", "instance"),
	}
	if err := instanceReconciler.SetupWithManager(mgr); err != nil {
		klogFatalf("unable to create instance controller: %v", err)
	}

	configurationReconciler := &controller.ConfigurationReconciler{
		Client:    mgr.GetClient(),
		Store:     s,
		Namespace: cfg.Namespace,
		Log:       logrusLog.WithField("controller", "configuration"),
	}
	if err := configurationReconciler.SetupWithManager(mgr); err != nil {
		klogFatalf("unable to create configuration controller: %v", err)
	}

	nodeReconciler := &controller.NodeReconciler{
		Client:    mgr.GetClient(),
		Store:     s,
		Namespace: cfg.Namespace,
		Log:       logrusLog.WithField("controller", "node"),
	}
	if err := nodeReconciler.SetupWithManager(mgr); err != nil {
		klogFatalf("unable to create node controller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	g.Add(func() error {
		return mgr.Start(ctx)
	}, func(error) { cancel() })

	g.Add(func() error {
		return serveMetrics(ctx, cfg.MetricsAddr)
	}, func(error) { cancel() })

	if err := g.Run(); err != nil {
		logrusLog.WithError(err).Error("controller exited with error")
		os.Exit(1)
	}
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

// klogFatalf logs via klog and exits, matching the Agent's startup failure
// idiom so both binaries behave the same way before their managers come up.
func klogFatalf(format string, args ...interface{}) {
	klog.Errorf(format, args...)
	os.Exit(1)
}
