// Copyright 2023 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package envdetect classifies the compute environment the current process
// is running in, distinguishing Compute Engine, GKE, Cloud Run, Cloud
// Functions, and App Engine from one another so that diagnostics and
// credential plumbing can tailor themselves to the host.
package envdetect

import (
	"context"
	"net/http"
	"os"
	"sync"

	"cloud.google.com/go/compute/metadata"
)

// Environment identifies the kind of compute environment a process is
// running in.
type Environment int

const (
	// None indicates no recognized Google Cloud compute environment.
	None Environment = iota
	// ComputeEngine indicates a bare Compute Engine instance.
	ComputeEngine
	// KubernetesEngine indicates a Google Kubernetes Engine pod.
	KubernetesEngine
	// CloudRun indicates a Cloud Run service or job.
	CloudRun
	// CloudFunctions indicates a Cloud Functions function.
	CloudFunctions
	// AppEngine indicates an App Engine standard or flexible service.
	AppEngine
)

// String returns a short human-readable name for e.
func (e Environment) String() string {
	switch e {
	case ComputeEngine:
		return "ComputeEngine"
	case KubernetesEngine:
		return "KubernetesEngine"
	case CloudRun:
		return "CloudRun"
	case CloudFunctions:
		return "CloudFunctions"
	case AppEngine:
		return "AppEngine"
	default:
		return "None"
	}
}

var (
	mu       sync.Mutex
	cached   *Environment
	onGCE    = metadata.OnGCE
	getenv   = os.Getenv
	gkeProbe = defaultGKEProbe
)

func defaultGKEProbe(ctx context.Context) bool {
	c := metadata.NewClient(&http.Client{})
	_, err := c.GetWithContext(ctx, "instance/attributes/cluster-name")
	return err == nil
}

// Detect classifies the current process's runtime environment and caches
// the result process-wide. The first matching rule wins: K_CONFIGURATION
// set on a GCE host is CloudRun; FUNCTION_NAME or FUNCTION_TARGET is
// CloudFunctions; GAE_SERVICE is AppEngine; a GCE host with a cluster-name
// metadata attribute is KubernetesEngine; any other GCE host is
// ComputeEngine; otherwise None. Use [Reset] to force re-detection, e.g. in
// tests.
func Detect(ctx context.Context) Environment {
	mu.Lock()
	defer mu.Unlock()
	if cached != nil {
		return *cached
	}
	env := detect(ctx)
	cached = &env
	return env
}

func detect(ctx context.Context) Environment {
	isGCE := onGCE()

	if getenv("K_CONFIGURATION") != "" && isGCE {
		return CloudRun
	}
	if getenv("FUNCTION_NAME") != "" || getenv("FUNCTION_TARGET") != "" {
		return CloudFunctions
	}
	if getenv("GAE_SERVICE") != "" {
		return AppEngine
	}
	if isGCE && gkeProbe(ctx) {
		return KubernetesEngine
	}
	if isGCE {
		return ComputeEngine
	}
	return None
}

// Reset clears the process-wide cache populated by [Detect], forcing the
// next call to re-run every probe. Intended for use by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
}
