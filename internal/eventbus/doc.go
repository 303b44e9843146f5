// Package eventbus fans QMP events out to subscribers.
package eventbus
