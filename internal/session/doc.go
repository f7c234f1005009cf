// Package session holds the durable state of a scan.
//
// A Session owns one SQLite store per target domain and exposes the
// findings of every phase as typed, deduplicating collections:
//
//	s, err := session.Open(ctx, session.Options{Dir: dir, Domain: "example.com", Mode: model.ModeStealth})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	s.Subdomains.Append(ctx, "api.example.com")
//	for host := range s.Subdomains.All(ctx) {
//	    // ...
//	}
//
// Appends are committed immediately, so a crash or interrupt never loses
// findings that were already reported. Which phases have completed is
// stored alongside the findings and drives resumption.
package session
