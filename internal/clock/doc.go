// Package clock decomposes instants into the calendar components used for
// boundary detection, capture file names, and remote date parsing.
//
// Decompose is the single source of padded fields (MM, DD, HH, MI, SS) so the
// scheduler's event names and the capture file stamps always agree.
package clock
