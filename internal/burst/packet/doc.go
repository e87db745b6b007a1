// Package packet implements the burst measurement wire format.
//
// Every datagram starts with a fixed 36-byte big-endian header:
//
//	offset  size  field
//	0       4     type          (ERROR=1, RESPONSE=2, DATA=3, REQUEST=4)
//	4       4     burstCount
//	8       4     packetNum
//	12      4     outOfOrderNum
//	16      8     timestamp     (ms since epoch, stamped by the sender)
//	24      4     packetSize
//	28      4     seq
//	32      4     udpInterval   (ms)
//
// Bytes after the header are padding. Senders pad DATA datagrams up to
// packetSize; receivers ignore the padding.
package packet
