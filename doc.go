// Package captchax guards HTTP handlers with a captcha challenge and
// remembers successful challenges in the user's session, so a user who
// passed is not challenged again until the pass expires.
//
// Usage:
//
//	client, err := recaptcha.New(os.Getenv("RECAPTCHA_SECRET"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sessions := session.NewManager(memstore.New())
//	gate := captchax.NewGate(client, captchax.Config{Validity: 10 * time.Minute},
//	    captchax.WithSessionManager(sessions),
//	)
//
//	mux := captchax.NewServeMux()
//	mux.Use(sessions)
//	mux.Protect("POST /comments", commentHandler, gate)
//
//	http.ListenAndServe(":8080", mux)
//
// Gates sharing a lock name accept each other's passes. A gate with
// Config.IndependentLock keeps a pass of its own, keyed by the function
// that created it or by the route given to ServeMux.Protect.
//
// Outside of net/http, Gate.Authorize takes the session, the submitted
// fields and the client address directly.
package captchax
