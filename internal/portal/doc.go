// Package portal implements the session layer for the Windows Device Portal
// REST and WebSocket API.
//
// A Session owns one target device. It establishes certificate trust,
// negotiates HTTP or HTTPS, keeps the anti-forgery token current and exposes
// two primitives that every endpoint wrapper builds on:
//
//	Request(ctx, method, path, query, body, out)
//	Subscribe[T](ctx, session, path, query, handler)
//
// # Features
//
//   - Root certificate bootstrap from config/rootcertificate with issuer check
//   - Per-session TLS validation against the cached or manual certificate
//   - CSRF cookie capture on GET and header injection on mutations
//   - Single automatic retry of a PUT rejected for a stale CSRF token
//   - Typed errors: PortalError, TransportError, CertificateTrustError,
//     UnsupportedOperationError, ProtocolFormatError
//   - Envelope unwrapping for the system performance endpoint
//   - Generic WebSocket channels with chunked message reassembly
//   - Connect state machine with ConnectionStatusEvent notifications
//
// # Architecture
//
//	Session
//	  ├── Descriptor    (address, scheme, credentials, OS info, certificate)
//	  ├── TrustManager  (bootstrap download, handshake validation)
//	  ├── csrfManager   (token capture and injection)
//	  └── http.Client   (shared by REST calls; WebSocket dialers reuse its TLS config)
//
// Endpoint sets such as sysperf and control live in sub-packages and take a
// *Session by composition.
//
// # Thread Safety
//
// Request may be called concurrently from multiple goroutines. The CSRF token,
// the descriptor and the certificate cache are guarded by mutexes. A Channel
// runs one receive goroutine; its lifecycle methods are safe to call from any
// goroutine.
//
// # Usage
//
//	d, err := portal.NewDescriptor("https://10.0.0.5", portal.Credentials{Username: "admin", Password: pw})
//	if err != nil {
//	    return err
//	}
//	s, err := portal.NewSession(d, portal.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	s.OnConnectionStatus(func(ev portal.ConnectionStatusEvent) {
//	    logger.Info("connect", "status", ev.Status, "phase", ev.Phase)
//	})
//	if err := s.Connect(ctx, portal.ConnectOptions{}); err != nil {
//	    return err
//	}
//	info, err := s.OSInfo(ctx)
package portal
