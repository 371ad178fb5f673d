// Package firestore stores cloudbackend entities in Google Cloud Firestore.
//
// Every entity kind shares one collection. A document holds the built-in
// fields as native Firestore values and the properties as a JSON document,
// so typed property values survive the round trip unchanged.
//
// Example usage:
//
//	client, err := firestore.NewClient(ctx, projectID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store, err := cbfirestore.NewEntityStore(cbfirestore.Config{}, client, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// The store does not close the injected client.
package firestore
