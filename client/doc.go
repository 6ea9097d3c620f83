// Package client provides a Go client for the mystb.in paste service (https://mystb.in).
//
// # Installation
//
//	go get github.com/tombowditch/mystbin-go/client
//
// # Quick Start
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/tombowditch/mystbin-go/client"
//	)
//
//	func main() {
//		c := client.New()
//		defer c.Close()
//
//		// Create a paste
//		p, err := c.CreatePaste(context.Background(), []client.File{
//			{Filename: "hello.py", Content: "print('Hello, World!')"},
//		}, client.CreateOptions{})
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println("Paste URL:", p.URL())
//
//		// Retrieve a paste (by URL or ID)
//		got, err := c.GetPaste(context.Background(), p.URL(), client.GetOptions{})
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println("Content:", got.Files[0].Content)
//
//		// Only the creator holds the security token needed to delete
//		if err := p.Delete(context.Background()); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// # Protected and Expiring Pastes
//
//	p, err := c.CreatePaste(ctx, files, client.CreateOptions{
//		Password: "hunter2",
//		Expires:  time.Now().Add(24 * time.Hour),
//	})
//	got, err := c.GetPaste(ctx, p.ID, client.GetOptions{Password: "hunter2"})
//
// # Rate Limits and Retries
//
// Requests to the same endpoint shape (for example every GET /paste/{id})
// share a rate-limit bucket and run one at a time in arrival order.
// Requests to different buckets run concurrently over one connection pool.
//
// Each request gets up to five attempts. A 429 waits until the advertised
// x-ratelimit-retry-after time, 500/502/503/504 back off 1s, 3s, 5s, ...,
// and dropped connections wait 5s. Any other non-2xx status fails at once.
// When a successful response reports x-ratelimit-remaining: 0 the bucket
// stays locked until the window resets, so the next caller waits instead of
// being rejected.
//
// # Custom Configuration
//
//	c := client.New(
//		client.WithBaseURL("https://your-mystbin-instance.com"),
//		client.WithTimeout(10 * time.Second),
//		client.WithToken(os.Getenv("MYSTBIN_TOKEN")),
//		client.WithLogger(logrus.StandardLogger()),
//	)
//
// # Error Handling
//
//	p, err := c.GetPaste(ctx, "AbcDef", client.GetOptions{})
//	if client.IsNotFound(err) {
//		// Paste expired or doesn't exist
//	}
//	if client.IsRateLimited(err) {
//		// Still limited after every retry
//	}
//	var apiErr *client.Error
//	if errors.As(err, &apiErr) {
//		fmt.Println(apiErr.StatusCode, string(apiErr.Body))
//	}
package client
