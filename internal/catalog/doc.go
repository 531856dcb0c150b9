// Package catalog resolves model references against the Civitai API.
//
// The engine treats this package as an external collaborator: given a task
// input (a model page URL, a model-version URL or a bare numeric ID), the
// resolver returns the download URL, filename, size and expected SHA-256
// of the artifact to transfer.
//
// # Usage
//
//	resolver := catalog.NewClient(httpClient, "")
//	res, err := resolver.Resolve(ctx, "https://civitai.com/models/1234")
//	// res.URL, res.Filename, res.Size, res.SHA256
//
// Resolution errors are terminal; the engine reports them with the API's
// error text and never retries them.
package catalog
