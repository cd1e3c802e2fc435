// Package inbox lists recent messages for an authorized email address.
//
// Reader loads the stored credentials, lists the mailbox with the access
// token and, when Google rejects the token, refreshes it once, persists the
// new credentials and retries the listing exactly once. Metadata for each
// listed message is then fetched in listing order and reduced to a Summary.
package inbox
