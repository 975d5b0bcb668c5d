package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nvr-ai/go-nms/inference"
	"github.com/nvr-ai/go-nms/models"
	"github.com/nvr-ai/go-nms/models/postprocess"
	"github.com/nvr-ai/go-nms/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

const (
	// FormatText prints one line per detection.
	FormatText = "text"
	// FormatJSON prints the packed rows, as read by cmd/annotate.
	FormatJSON = "json"
	// FormatNpy writes the packed rows as a [rows, 6] numpy array.
	FormatNpy = "npy"
)

// input names where the detector outputs come from. Exactly one source is set.
type input struct {
	// batchPath is a YAML or JSON batch.
	batchPath string
	// yoloPath is a raw YOLO head output saved with numpy.save.
	yoloPath string
	yolo     inference.YOLOOptions
	// boxesPath and scoresPath are box and score tensors saved with numpy.save.
	boxesPath  string
	scoresPath string
	dense      inference.DenseOptions
}

// load reads the batch. Tensor sources carry their own box sharing; a batch file uses
// shareLocation.
func (in input) load(shareLocation bool) (inference.Outputs, error) {
	sources := 0
	for _, p := range []string{in.batchPath, in.yoloPath, in.boxesPath} {
		if p != "" {
			sources++
		}
	}
	if sources != 1 {
		return inference.Outputs{}, errors.New("need exactly one of -batch, -yolo or -boxes with -scores")
	}

	switch {
	case in.yoloPath != "":
		t, err := util.LoadNpy(in.yoloPath)
		if err != nil {
			return inference.Outputs{}, err
		}
		return inference.FromYOLODense(t, in.yolo)
	case in.boxesPath != "":
		if in.scoresPath == "" {
			return inference.Outputs{}, errors.New("-boxes needs -scores")
		}
		boxes, err := util.LoadNpy(in.boxesPath)
		if err != nil {
			return inference.Outputs{}, err
		}
		scores, err := util.LoadNpy(in.scoresPath)
		if err != nil {
			return inference.Outputs{}, err
		}
		return inference.FromDense(boxes, scores, in.dense)
	}

	batch, err := util.LoadBatch(in.batchPath)
	return inference.Outputs{Batch: batch, ShareLocation: shareLocation}, err
}

func main() {
	defaults := postprocess.DefaultConfig()

	var (
		in             input
		configPath     string
		format         string
		labelStyle     string
		scoreThreshold float64
		nmsThreshold   float64
		eta            float64
		nmsTopK        int
		keepTopK       int
		background     int
		workers        int
		normalized     bool
		debug          bool
	)
	flag.StringVar(&in.batchPath, "batch", "", "Path to the detector outputs (YAML or JSON)")
	flag.StringVar(&in.yoloPath, "yolo", "", "Path to a raw YOLO head output (.npy)")
	flag.TextVar(&in.yolo.Head, "head", inference.HeadAnchorFree, "YOLO head layout: anchor_free or objectness")
	flag.Func("scale-x", "Factor mapping YOLO x coordinates to the frame", parseScale(&in.yolo.ScaleX))
	flag.Func("scale-y", "Factor mapping YOLO y coordinates to the frame", parseScale(&in.yolo.ScaleY))
	flag.StringVar(&in.boxesPath, "boxes", "", "Path to a box tensor (.npy), [B,N,4] shared or [B,C,N,4] per class")
	flag.StringVar(&in.scoresPath, "scores", "", "Path to a score tensor (.npy), [B,C,N]")
	flag.TextVar(&in.dense.BoxLayout, "box-layout", postprocess.LayoutPriorMajor, "Box tensor layout: prior_major or coord_major")
	flag.BoolVar(&in.dense.ScoresPriorMajor, "scores-prior-major", false, "Scores are [B,N,C]")
	flag.StringVar(&configPath, "config", "", "Path to the NMS configuration (YAML or JSON); flags override it")
	flag.StringVar(&format, "format", FormatText, "Output format: text, json or npy")
	flag.StringVar(&labelStyle, "labels", "", "Label set used to name classes: coco, yolo or voc")
	flag.Float64Var(&scoreThreshold, "score-threshold", float64(defaults.ScoreThreshold), "Score a candidate must exceed")
	flag.Float64Var(&nmsThreshold, "nms-threshold", float64(defaults.NMSThreshold), "IoU tolerance for suppression")
	flag.Float64Var(&eta, "eta", float64(defaults.NMSEta), "Adaptive threshold decay in (0, 1]")
	flag.IntVar(&nmsTopK, "nms-top-k", defaults.NMSTopK, "Candidates per class entering suppression, -1 for all")
	flag.IntVar(&keepTopK, "keep-top-k", defaults.KeepTopK, "Detections kept per image, -1 for all")
	flag.IntVar(&background, "background", defaults.BackgroundLabel, "Background class to skip, -1 for none (defaults to the label set's)")
	flag.IntVar(&workers, "workers", defaults.NumWorkers, "Images suppressed concurrently")
	flag.BoolVar(&normalized, "normalized", defaults.Normalized, "Boxes are normalized; use w*h areas")
	flag.BoolVar(&debug, "debug", false, "Log one line per image")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if in.batchPath == "" && in.yoloPath == "" && in.boxesPath == "" && flag.NArg() > 0 {
		in.batchPath = flag.Arg(0)
	}
	if format != FormatText && format != FormatJSON && format != FormatNpy {
		log.Fatalf("unknown format %q", format)
	}

	cfg := defaults
	if configPath != "" {
		var err error
		if cfg, err = util.LoadConfig(configPath); err != nil {
			log.WithError(err).Fatal("loading config")
		}
	}

	var labels *models.LabelSet
	if labelStyle != "" {
		var err error
		if labels, err = models.LookupLabelSet(models.LabelStyle(labelStyle)); err != nil {
			log.WithError(err).Fatal("loading labels")
		}
		if configPath == "" {
			cfg.BackgroundLabel = labels.BackgroundLabel()
		}
	}

	// Only flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "score-threshold":
			cfg.ScoreThreshold = float32(scoreThreshold)
		case "nms-threshold":
			cfg.NMSThreshold = float32(nmsThreshold)
		case "eta":
			cfg.NMSEta = float32(eta)
		case "nms-top-k":
			cfg.NMSTopK = nmsTopK
		case "keep-top-k":
			cfg.KeepTopK = keepTopK
		case "background":
			cfg.BackgroundLabel = background
		case "workers":
			cfg.NumWorkers = workers
		case "normalized":
			cfg.Normalized = normalized
		}
	})

	out, err := in.load(cfg.ShareLocation)
	if err != nil {
		log.WithError(err).Fatal("loading detector outputs")
	}

	results, err := out.Process(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("suppressing batch")
	}
	if err := writeResults(os.Stdout, format, results, labels); err != nil {
		log.WithError(err).Fatal("writing results")
	}
}

func parseScale(dst *float32) func(string) error {
	return func(s string) error {
		v, err := cast.ToFloat32E(s)
		if err != nil {
			return err
		}
		if v <= 0 {
			return errors.Errorf("scale %v must be positive", v)
		}
		*dst = v
		return nil
	}
}

// writeResults writes results in format.
func writeResults(w io.Writer, format string, results []postprocess.ImageResult, labels *models.LabelSet) error {
	if format == FormatText {
		return writeText(w, results, labels)
	}

	packed, err := postprocess.Pack(results)
	if err != nil {
		return err
	}
	if format == FormatJSON {
		return json.NewEncoder(w).Encode(packed)
	}
	rows, err := inference.ToDense(packed)
	if err != nil {
		return err
	}
	return rows.WriteNpy(w)
}

// writeText prints a header per image followed by its detections.
func writeText(w io.Writer, results []postprocess.ImageResult, labels *models.LabelSet) error {
	for _, r := range results {
		if _, err := fmt.Fprintf(w, "image %d: %d detections\n", r.Image, r.Count); err != nil {
			return err
		}
		for _, d := range r.Detections {
			if d.IsSentinel() {
				continue
			}
			if _, err := fmt.Fprintf(w, "  %-16s %.4f %s\n", labels.Name(d.Label), d.Score, d.Box); err != nil {
				return err
			}
		}
	}
	return nil
}
