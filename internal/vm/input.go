package vm

// InputBuffer is the byte-stream contract the machine reads from. Read
// returns a view of the next nbytes and advances the position; positioning
// outside [0, Len] is an error and leaves the position unchanged.
type InputBuffer interface {
	Read(nbytes int64) ([]byte, error)
	Seek(pos int64) error
	Skip(delta int64) error
	Pos() int64
	Len() int64
	End() bool
}

// Input is a []byte-backed InputBuffer. The data is never copied; Read
// returns subslices of it.
type Input struct {
	data []byte
	pos  int64
}

func NewInput(data []byte) *Input {
	return &Input{data: data}
}

func (in *Input) Read(nbytes int64) ([]byte, error) {
	if nbytes < 0 || in.pos+nbytes > int64(len(in.data)) {
		return nil, ErrReadBeyond
	}
	out := in.data[in.pos : in.pos+nbytes]
	in.pos += nbytes
	return out, nil
}

func (in *Input) Seek(pos int64) error {
	if pos < 0 || pos > int64(len(in.data)) {
		return ErrSeekBeyond
	}
	in.pos = pos
	return nil
}

func (in *Input) Skip(delta int64) error {
	next := in.pos + delta
	if next < 0 || next > int64(len(in.data)) {
		return ErrSkipBeyond
	}
	in.pos = next
	return nil
}

func (in *Input) Pos() int64 {
	return in.pos
}

func (in *Input) Len() int64 {
	return int64(len(in.data))
}

func (in *Input) End() bool {
	return in.pos == int64(len(in.data))
}
