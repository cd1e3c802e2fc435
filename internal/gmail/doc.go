// Package gmail reads message metadata and the account profile from the Gmail API.
//
// Each call is made with the caller's bearer access token; the client holds
// no credentials of its own. Listing returns a tagged ListResult so callers
// can tell an authorization rejection (which may be fixed by refreshing the
// token) from every other failure.
//
// All calls pass through a circuit breaker. Authorization rejections and
// missing messages are answers from a healthy API and do not count toward
// tripping it.
//
// Example usage:
//
//	client := gmail.NewClient(gmail.WithTimeout(15 * time.Second))
//	res := client.ListMessageIDs(ctx, accessToken, 10)
//	switch res.Status {
//	case gmail.ListOK:
//	    for _, id := range res.IDs {
//	        md, err := client.GetMetadata(ctx, accessToken, id)
//	        ...
//	    }
//	case gmail.ListUnauthorized:
//	    // refresh the access token and retry
//	}
package gmail
