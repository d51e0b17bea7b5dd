// Package iam implements the trust-propagation protocol shared by every service
// of the mesh.
//
// It provides:
//
//   - RequestAuthenticator: one pass over trust header, access token, and
//     refresh token producing a Principal (or a rejection)
//   - RenewalService: single-use refresh token rotation backed by the
//     refresh_sessions table
//   - Service: facade for login, logout, session listing, and websocket tokens
//
// Request Flow:
//
//	Request → middleware.Authn → RequestAuthenticator.Authenticate()
//	       ├─ X-Internal-Service → TrustRegistry → internal-service Principal
//	       ├─ valid access token → auth.ResolvePrincipal
//	       └─ expired + X-Refresh-Token → RenewalService.Renew → new cookies
//
// The Principal is built once per request and carried in the request context.
package iam
