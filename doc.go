// Package trustgate is a client-resident trust gateway: a library that
// gives an embedding application encrypted local persistence, session
// lifecycle management, rate limiting, anti-forgery tokens, threat
// detection, and an audit trail behind one Guard call.
//
// The gateway trusts nothing it is handed. Requests are sanitized before
// any other layer sees them, budgets are charged per operation class,
// state-changing requests must present a single-use anti-forgery token,
// and everything security-relevant lands in an encrypted audit trail.
//
// Typical usage:
//
//	provider := identity.NewStaticProvider("user-1", proof)
//	gw, err := trustgate.New(provider, trustgate.Config{})
//	if err != nil {
//		return err
//	}
//	defer gw.Close(ctx)
//
//	if _, err := gw.SignIn(ctx, ""); err != nil {
//		return err
//	}
//	token, _ := gw.IssueToken(ctx)
//
//	decision, err := gw.Guard(ctx, trustgate.Request{
//		URL:    "https://api.example.com/orders",
//		Method: "POST",
//		Body:   payload,
//	}, trustgate.GuardContext{HeaderToken: token})
package trustgate
