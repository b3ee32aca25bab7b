// Package remote implements the Remote Execution Clients.
//
// Each client talks to one third-party execution backend. It maps the
// canonical language id to the backend's own identifier, builds the
// backend-specific payload, issues a single HTTP call and normalizes the
// backend's response into an execution.Result. Callers never see
// backend-specific shapes.
//
// Network failures are returned as errors (see IsTimeout). A response that
// does not carry the backend's success field is returned as *ResponseError.
package remote
