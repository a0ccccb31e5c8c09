// Package lifecycle drives registered plugins through the startup phases:
// Init, BeforeServerStart and BeforeProcessStart. The last phase waits on each
// plugin's readiness signal in resolved order, isolating failures so one stuck
// plugin cannot hold the process hostage.
package lifecycle
