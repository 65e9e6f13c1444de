// Package amqpio is an AMQP 0-9-1 client focused on a small, strict
// connection core: one io loop goroutine owns the socket and all protocol
// state, and every Connection, Channel and Consumer operation is a message
// to that loop. Failures surface as a single shared *Error per connection,
// so every caller affected by one root cause sees the same value.
//
// Open a connection over an existing stream or via Dial, open channels,
// publish and consume:
//
//	conn, err := amqpio.Dial("localhost:5672",
//		amqpio.DefaultConnectionOptions(),
//		amqpio.DefaultConnectionTuning(),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer conn.Close()
//
//	ch, err := conn.OpenChannel(0)
//	if err != nil {
//		log.Fatal(err)
//	}
//	consumer, err := ch.Consume("work", amqpio.ConsumeOptions{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	for d := range consumer.Deliveries() {
//		// handle d.Body
//		_ = d.Ack(ch, false)
//	}
package amqpio
