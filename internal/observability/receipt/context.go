package receipt

import "context"

type writerKey struct{}

// WithWriter attaches w so Session.Finish can find it.
func WithWriter(ctx context.Context, w Writer) context.Context {
	return context.WithValue(ctx, writerKey{}, w)
}

// From returns the attached writer, nil when receipts are off.
func From(ctx context.Context) Writer {
	w, _ := ctx.Value(writerKey{}).(Writer)
	return w
}
