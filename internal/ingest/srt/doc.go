// Package srt receives live MPEG-TS over SRT (Secure Reliable Transport),
// either in listener mode, accepting publish connections (Server, Accept),
// or in caller mode, pulling from a remote listener (Caller, Dial).
package srt
