/*
Package rbs is a client for the RBS backend-as-a-service platform.

# Overview

A Client keeps one session per project. The first action call creates an
anonymous identity; later calls reuse its tokens until the access token is
about to expire, then refresh it. Token work is serialised, so any number of
concurrent Send calls share a single anonymous bootstrap or refresh.

	client, err := rbs.New(rbs.Config{ProjectID: "7b7ecec721d54629bed1d3b1aec210e8"})
	if err != nil {
		return err
	}
	defer client.Close()

	items, err := client.Send(ctx, rbs.ActionRequest{
		Action:  "rbs.businessuserauth.request.LOGIN",
		Payload: map[string]any{"email": "a@b.c"},
	})

# Actions

Action names have four dot-separated segments: namespace, service, kind and
name. Kind "get" is sent as a public GET with the payload base64 encoded in
the query string; every other kind is a POST with a JSON body. Failed calls
return *ActionError and are never retried.

# Identities

Use AuthenticateWithCustomToken to sign in with a token minted by your own
backend, and SignOut to drop back to no identity. CurrentUser reports who is
signed in without touching the network. Status changes are
delivered to SubscribeAuthStatus callbacks on a dedicated goroutine:

	unsubscribe := client.SubscribeAuthStatus(func(s rbs.AuthStatus) {
		log.Println("auth status:", s)
	})
	defer unsubscribe()

# Persistence

Sessions live in memory unless a securestore.Store is supplied with
WithStore. The sqlite and redis sub-packages of securestore provide durable
drivers.

# Realtime

Unless WithoutRealtime is given, each successful token check also asks the
realtime manager to connect with the current access token. ConnectRealtime
does the same without sending an action. Feed lifecycle
and reachability changes to Client.Realtime() to let it pause in the
background and resume when the app or the network comes back.
*/
package rbs
