// Package rgs provides a client for the RGS wallet API.
//
// The RGS (remote gaming server) owns balance and round truth. This client
// issues the five wallet operations a game front end needs and reduces
// every failure to a single *Error value.
//
// # Basic Usage
//
//	client := rgs.NewClient(&rgs.ClientConfig{
//	    BaseURL:   "https://rgs.example.com",
//	    SessionID: "session-token",
//	    Currency:  "USD",
//	})
//
//	auth, err := client.Authenticate(ctx, "")
//
//	// Bet 1.00 at the default 1,000,000 API multiplier
//	play, err := client.Play(ctx, 1_000_000, rgs.DefaultMode)
//
//	// Collect a pending payout
//	if play.Round.HasPayout() {
//	    end, err := client.EndRound(ctx)
//	}
//
// # Error Handling
//
// Every error returned by a Client operation is an *Error:
//
//	_, err := client.Play(ctx, amount, "BASE")
//	var rgsErr *rgs.Error
//	if errors.As(err, &rgsErr) {
//	    switch {
//	    case rgsErr.ServerDeclared():
//	        // code and message exactly as the server sent them
//	    case rgsErr.Code == rgs.ErrCodeTimeout:
//	        // the request exceeded the configured timeout
//	    }
//	}
//
// The client never retries.
package rgs
