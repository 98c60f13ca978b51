package wsremote

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/mnohosten/relaydb/pkg/syncmanager"
)

// RegisterRemoteChange dials url and returns a
// syncmanager.RegisterRemoteChangeFunc: each inbound
// {"collectionName": "..."} frame invokes onChange with that name, until
// the returned unsubscribe func is called or the connection drops.
//
// Use it as: syncmanager.Config{RegisterRemoteChange: wsremote.RegisterRemoteChange(url)}.
func RegisterRemoteChange(url string) syncmanager.RegisterRemoteChangeFunc {
	return func(ctx context.Context, onChange func(string)) (syncmanager.UnsubscribeFunc, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("wsremote: dial %s: %w", url, err)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				var msg Message
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				if msg.CollectionName != "" {
					onChange(msg.CollectionName)
				}
			}
		}()

		unsubscribe := func() {
			conn.Close()
			<-done
		}
		return unsubscribe, nil
	}
}
