package main

import (
	"encoding/json"
	"flag"
	"image/png"
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-nms/inference"
	"github.com/nvr-ai/go-nms/models"
	"github.com/nvr-ai/go-nms/models/postprocess"
	"github.com/nvr-ai/go-nms/render"
	"github.com/nvr-ai/go-nms/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const (
	// DefaultOutputDir is the default output directory for annotated frames.
	DefaultOutputDir = "annotated_frames"
)

// detectFunc returns the detections of batch element i, decoded as img.
type detectFunc func(i int, img gocv.Mat) ([]postprocess.Detection, error)

func main() {
	var (
		detectionsPath string
		modelPath      string
		configPath     string
		outputShape    string
		inputSize      int
		head           inference.YOLOHead
		imagePath      string
		framesDir      string
		outputDir      string
		labelStyle     string
		minScore       float64
		normalized     bool
		thumbSize      uint
	)
	flag.StringVar(&detectionsPath, "detections", "", "Packed rows written by the nms CLI with -format json")
	flag.StringVar(&modelPath, "model", "", "YOLO model (.onnx) to run on each frame instead of reading -detections")
	flag.StringVar(&configPath, "config", "", "NMS configuration for -model (YAML or JSON)")
	flag.StringVar(&outputShape, "output-shape", "1,84,8400", "Model output shape for -model")
	flag.IntVar(&inputSize, "input-size", 640, "Square model input size for -model")
	flag.TextVar(&head, "head", inference.HeadAnchorFree, "YOLO head layout for -model: anchor_free or objectness")
	flag.StringVar(&imagePath, "image", "", "Image of batch element 0")
	flag.StringVar(&framesDir, "frames", "", "Directory of frames, frame i being batch element i")
	flag.StringVar(&outputDir, "output-dir", DefaultOutputDir, "Output directory for annotated frames")
	flag.StringVar(&labelStyle, "labels", string(models.StyleCOCO), "Label set: coco, yolo or voc")
	flag.Float64Var(&minScore, "min-score", 0, "Hide detections scoring below this")
	flag.BoolVar(&normalized, "normalized", false, "Boxes are in [0, 1] and scaled to the frame size")
	flag.UintVar(&thumbSize, "thumbnail", 0, "Also write PNG thumbnails fitting this size, 0 to skip")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if (detectionsPath == "") == (modelPath == "") || (imagePath == "") == (framesDir == "") {
		log.Fatal("need exactly one of -detections or -model, and exactly one of -image or -frames")
	}

	labels, err := models.LookupLabelSet(models.LabelStyle(labelStyle))
	if err != nil {
		log.WithError(err).Fatal("loading labels")
	}

	var frames []util.ImageFile
	if framesDir != "" {
		if frames, err = util.LoadDirectoryImageFiles(framesDir); err != nil {
			log.WithError(err).Fatal("loading frames")
		}
	} else {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			log.WithError(err).Fatal("loading image")
		}
		frames = []util.ImageFile{{Path: imagePath, Data: data}}
	}

	var detect detectFunc
	if modelPath != "" {
		shape, err := inference.ParseShape(outputShape)
		if err != nil {
			log.WithError(err).Fatal("parsing output shape")
		}
		cfg := postprocess.DefaultConfig()
		cfg.BackgroundLabel = labels.BackgroundLabel()
		if configPath != "" {
			if cfg, err = util.LoadConfig(configPath); err != nil {
				log.WithError(err).Fatal("loading config")
			}
		}

		dcfg := inference.DefaultDetectorConfig()
		dcfg.ModelPath = modelPath
		dcfg.InputWidth, dcfg.InputHeight = inputSize, inputSize
		dcfg.OutputShape = shape
		dcfg.Head = head
		det, err := inference.NewDetector(dcfg)
		if err != nil {
			log.WithError(err).Fatal("loading model")
		}
		defer det.Close()
		detect = modelDetections(det, cfg, log)
	} else {
		perImage, err := loadDetections(detectionsPath)
		if err != nil {
			log.WithError(err).Fatal("loading detections")
		}
		if len(frames) != len(perImage) {
			log.WithFields(logrus.Fields{"frames": len(frames), "images": len(perImage)}).
				Warn("frame count differs from batch size, extra entries are ignored")
		}
		if len(frames) > len(perImage) {
			frames = frames[:len(perImage)]
		}
		detect = func(i int, _ gocv.Mat) ([]postprocess.Detection, error) {
			return perImage[i], nil
		}
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.WithError(err).Fatal("creating output directory")
	}

	opts := render.DefaultOptions()
	opts.MinScore = float32(minScore)
	opts.Normalized = normalized

	for i, frame := range frames {
		drawn, err := annotate(i, frame, detect, labels, opts, outputDir, thumbSize)
		if err != nil {
			log.WithError(err).WithField("frame", frame.Path).Error("annotating frame")
			continue
		}
		log.WithFields(logrus.Fields{"frame": frame.Path, "detections": drawn}).Info("annotated")
	}
}

func loadDetections(path string) ([][]postprocess.Detection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var packed postprocess.Packed
	if err := json.Unmarshal(data, &packed); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return packed.Unpack()
}

// modelDetections runs the model over each frame and suppresses its output.
func modelDetections(det *inference.Detector, cfg postprocess.Config, log logrus.FieldLogger) detectFunc {
	return func(_ int, img gocv.Mat) ([]postprocess.Detection, error) {
		out, err := det.Detect(img)
		if err != nil {
			return nil, err
		}
		results, err := out.Process(cfg, log)
		if err != nil {
			return nil, err
		}
		return results[0].Detections, nil
	}
}

func annotate(i int, frame util.ImageFile, detect detectFunc, labels *models.LabelSet, opts render.Options, outputDir string, thumbSize uint) (int, error) {
	img, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return 0, errors.Wrap(err, "decoding image")
	}
	defer img.Close()
	if img.Empty() {
		return 0, errors.New("empty image")
	}

	dets, err := detect(i, img)
	if err != nil {
		return 0, errors.Wrap(err, "detecting")
	}
	drawn := render.Draw(&img, dets, labels, opts)

	name := filepath.Base(frame.Path)
	outputPath := filepath.Join(outputDir, "annotated_"+name)
	if !gocv.IMWrite(outputPath, img) {
		return drawn, errors.Errorf("writing %s", outputPath)
	}
	if thumbSize == 0 {
		return drawn, nil
	}

	thumb, err := render.Thumbnail(img, thumbSize, thumbSize)
	if err != nil {
		return drawn, err
	}
	f, err := os.Create(filepath.Join(outputDir, "thumb_"+name+".png"))
	if err != nil {
		return drawn, err
	}
	defer f.Close()
	return drawn, png.Encode(f, thumb)
}
