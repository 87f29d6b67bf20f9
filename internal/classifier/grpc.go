package classifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/accident-check/internal/detection"
	"github.com/example/accident-check/internal/logging"
)

const (
	// BackendGRPC names the remote inference backend.
	BackendGRPC = "grpc"

	// ClassifyMethod is the unary RPC served by the inference backend. The
	// request carries the raw image as BytesValue; the reply is a Struct
	// mapping each label to its probability.
	ClassifyMethod = "/accident.v1.Classifier/Classify"
)

// GRPCClassifier calls a remote model server.
type GRPCClassifier struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// DialGRPC returns a classifier bound to the inference backend at addr.
func DialGRPC(addr string, logger *zap.Logger, opts ...grpc.DialOption) (*GRPCClassifier, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("classifier.dial_grpc", "", err)
		logger.Error("failed to create inference client", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &GRPCClassifier{conn: conn, logger: logger.Named("grpc_classifier")}, nil
}

// Classify sends the image to the backend and converts the reply.
func (g *GRPCClassifier) Classify(ctx context.Context, imageBytes []byte) (*detection.Classification, error) {
	reply := &structpb.Struct{}
	start := time.Now()
	err := g.conn.Invoke(ctx, ClassifyMethod, wrapperspb.Bytes(imageBytes), reply)
	latency := time.Since(start)
	if err != nil {
		wrapped := detection.NewClassificationError(BackendGRPC, statusCause(err))
		g.logger.Error("inference call failed", zap.Error(wrapped), zap.Duration("latency", latency))
		return nil, wrapped
	}

	dist := make(detection.Distribution, len(reply.GetFields()))
	for label, value := range reply.GetFields() {
		number, ok := value.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, detection.NewClassificationError(BackendGRPC,
				fmt.Errorf("non-numeric probability for label %q", label))
		}
		dist[detection.Label(label)] = number.NumberValue
	}
	return &detection.Classification{Probabilities: dist, Latency: latency}, nil
}

// Close releases the underlying connection.
func (g *GRPCClassifier) Close() error {
	return g.conn.Close()
}

func statusCause(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", detection.ErrUnreadableImage, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", detection.ErrBackendUnavailable, st.Message())
	default:
		return err
	}
}
