// Package tor provides Tor network connectivity for geoscrape.
//
// This package provides SOCKS5 proxy connections through the Tor network for
// page fetches, a control port client for identity renewal (SIGNAL NEWNYM),
// and an optional embedded Tor daemon via the tornago library. It handles
// connection management, proxy status verification, and provides HTTP clients
// configured for Tor.
//
// Design decision: Fetching and control are split into Client and Controller
// because they talk to different ports with different trust models. The SOCKS
// port is unauthenticated and carries page traffic; the control port is
// authenticated and can reconfigure the daemon. Keeping them separate means a
// fetch path never holds control credentials.
//
// The package is designed to be used with dependency injection - create a
// Client and a Controller and pass them to components that need Tor
// connectivity rather than using global state.
package tor
