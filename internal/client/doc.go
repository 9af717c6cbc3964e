// Package client is the blocking device and module API over the pipeline.
//
// Each call submits one pipeline operation and waits for it, honouring the
// caller's context. Inbound data is queued in per-kind inboxes until a
// Receive call collects it; the first Receive of each kind enables the
// matching feature.
//
//	c, err := client.NewFromConnectionString(cs, auth.Options{}, client.Options{})
//	if err != nil {
//	    return err
//	}
//	defer c.Close(context.Background())
//
//	if err := c.Connect(ctx); err != nil {
//	    return err
//	}
//	req, err := c.ReceiveMethodRequest(ctx, "reboot")
package client
