// Package message sends encrypted group messages and runs the receive
// loop that turns relay deliveries into decrypted events.
package message
