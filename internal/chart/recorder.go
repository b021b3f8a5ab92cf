package chart

// OpKind identifies a drawing call.
type OpKind string

const (
	OpScatter  OpKind = "scatter"
	OpLine     OpKind = "line"
	OpAnnotate OpKind = "annotate"
	OpLabel    OpKind = "label"
)

// Op is one recorded drawing call.
type Op struct {
	Kind       OpKind           `json:"kind"`
	Xs         []float64        `json:"xs,omitempty"`
	Ys         []float64        `json:"ys,omitempty"`
	Text       string           `json:"text,omitempty"`
	At         *XY              `json:"at,omitempty"`
	Marker     *MarkerStyle     `json:"marker,omitempty"`
	Line       *LineStyle       `json:"line,omitempty"`
	Annotation *AnnotationStyle `json:"annotation,omitempty"`
}

// Recorder is a Surface that keeps every call in order.
type Recorder struct {
	Ops []Op `json:"ops"`
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Scatter(xs, ys []float64, style MarkerStyle) {
	r.Ops = append(r.Ops, Op{
		Kind:   OpScatter,
		Xs:     append([]float64(nil), xs...),
		Ys:     append([]float64(nil), ys...),
		Marker: &style,
	})
}

func (r *Recorder) Line(xs, ys []float64, style LineStyle) {
	r.Ops = append(r.Ops, Op{
		Kind: OpLine,
		Xs:   append([]float64(nil), xs...),
		Ys:   append([]float64(nil), ys...),
		Line: &style,
	})
}

func (r *Recorder) Annotate(text string, at XY, style AnnotationStyle) {
	r.Ops = append(r.Ops, Op{
		Kind:       OpAnnotate,
		Text:       text,
		At:         &at,
		Annotation: &style,
	})
}

func (r *Recorder) Label(text string, at XY) {
	r.Ops = append(r.Ops, Op{
		Kind: OpLabel,
		Text: text,
		At:   &at,
	})
}

// Filter returns the recorded ops of one kind, in order.
func (r *Recorder) Filter(kind OpKind) []Op {
	var out []Op
	for _, op := range r.Ops {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}
