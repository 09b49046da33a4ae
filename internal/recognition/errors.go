package recognition

import "errors"

// ErrSinkNotPrepared is returned by Start and WriteAudio when
// PrepareSink has not been called yet.
var ErrSinkNotPrepared = errors.New("recognition: audio sink not prepared")
