// Package tenant resolves inbound request hosts to tenants.
//
// The resolver runs before authentication: a request is only processed
// when its host maps to an active tenant. Local development hosts and
// the liveness route bind a fixed synthetic tenant so health checks stay
// tenant-agnostic.
package tenant
