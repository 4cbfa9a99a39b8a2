// Package rekognition is an OCR engine backed by AWS Rekognition DetectText.
package rekognition

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/config"
	"gitlab.com/web-doodle/emubot/pkg/logging"
	"gitlab.com/web-doodle/emubot/pkg/ocr"
	"gitlab.com/web-doodle/emubot/pkg/vision"
)

// DetectTextAPI is the part of the Rekognition client the engine uses.
type DetectTextAPI interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

type Engine struct {
	api           DetectTextAPI
	minConfidence float32
	logger        *zap.Logger
}

// New builds a client from the AWS section of the config. Static credentials
// are used when both keys are set, otherwise the default chain applies.
func New(ctx context.Context, cfg config.AWSConfig, minConfidence float64, logger *zap.Logger) (*Engine, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessId != "" && cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessId, cfg.AccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewWithAPI(rekognition.NewFromConfig(awsCfg), minConfidence, logger), nil
}

func NewWithAPI(api DetectTextAPI, minConfidence float64, logger *zap.Logger) *Engine {
	return &Engine{
		api:           api,
		minConfidence: float32(minConfidence),
		logger:        logging.OrNop(logger).Named("rekognition"),
	}
}

// ExtractText returns the detected LINE entries above the confidence floor,
// one per line. Tesseract settings do not apply.
func (e *Engine) ExtractText(ctx context.Context, img image.Image, _ ocr.TesseractConfig) (string, error) {
	data, err := vision.Encode(img)
	if err != nil {
		return "", err
	}
	out, err := e.api.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: data},
	})
	if err != nil {
		return "", fmt.Errorf("rekognition detect text: %w", err)
	}

	var lines []string
	for _, d := range out.TextDetections {
		if d.Type != types.TextTypesLine || d.DetectedText == nil {
			continue
		}
		if aws.ToFloat32(d.Confidence) < e.minConfidence {
			continue
		}
		lines = append(lines, *d.DetectedText)
	}
	e.logger.Debug("detected text", zap.Int("detections", len(out.TextDetections)), zap.Int("lines", len(lines)))
	return strings.Join(lines, "\n"), nil
}
