// Package demux parses the elementary streams a transport stream carries:
// H.264 and H.265 access units, AAC in ADTS framing, and the CEA-608/708
// captions embedded in video SEI messages.
package demux
