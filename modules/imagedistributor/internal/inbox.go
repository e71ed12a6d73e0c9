package internal

import "github.com/e7canasta/orion-frameshare/modules/imageproxy"

// OnImageAvailable queues an image for callbackLoop.
//
// Unlike a latest-only mailbox, the inbox is a FIFO: routes may have
// requested any of the queued images, so none can be overwritten. After
// Stop the image is closed immediately.
//
// Latency: O(1), never blocks on distribution.
func (d *distributor) OnImageAvailable(img imageproxy.Proxy) {
	d.inbox.Update(img)
}
