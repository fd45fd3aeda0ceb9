/*
Copyright 2025.

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

// Package simulation implements the controller for the Simulation resource.
//
// A Simulation drives a load scenario against a Network: one manager
// coordinating the run, one worker per simulated user, and the telemetry
// tier the runners report into (an OpenTelemetry collector, a Prometheus
// scraping it, and a Redis for cross-worker coordination).
//
// # Run State Machine
//
//	Pending → ProvisioningTelemetry → StartingManager → StartingWorkers →
//	Running → Completed | Failed
//
// Unlike the Network topology machine, Completed and Failed are terminal
// and sticky: a finished run is never restarted in place. Rerunning means
// deleting and re-applying the Simulation; the fresh run ID minted for the
// new instance keeps its workers from ever colliding with residue of the
// old one.
//
// The manager is held back until the telemetry tier is ready and the
// referenced Network reports Steady, so every sample a runner emits lands
// in a collector that exists and targets a network that is actually
// serving. A network that never settles fails the run rather than leaving
// it pending forever.
//
// Completion is detected two ways, whichever fires first: the declared run
// time elapsing, or the manager's own control endpoint reporting the
// scenario finished. On completion the manager and workers are scaled to
// zero rather than deleted, preserving logs for the post-run harvest.
package simulation
