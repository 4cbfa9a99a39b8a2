package ocr

import (
	"fmt"
	"strconv"
	"strings"
)

// EngineModeVariable is the tesseract parameter behind --oem.
const EngineModeVariable = "tessedit_ocr_engine_mode"

// ParseArgs reads tesseract command line options into a TesseractConfig.
// Supported are --oem N, --psm N (also as --oem=N, --psm=N) and -c name=value.
func ParseArgs(args string) (TesseractConfig, error) {
	var cfg TesseractConfig
	fields := strings.Fields(args)
	for i := 0; i < len(fields); i++ {
		flag, value, inline := strings.Cut(fields[i], "=")
		if flag != "--psm" && flag != "--oem" && flag != "-c" {
			return TesseractConfig{}, fmt.Errorf("unsupported tesseract option %q", fields[i])
		}
		if !inline || flag == "-c" {
			if i+1 >= len(fields) {
				return TesseractConfig{}, fmt.Errorf("tesseract option %q needs a value", flag)
			}
			i++
			value = fields[i]
		}

		switch flag {
		case "--psm":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 || n > 13 {
				return TesseractConfig{}, fmt.Errorf("invalid page segmentation mode %q", value)
			}
			cfg.PageSegMode = n
		case "--oem":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 || n > 3 {
				return TesseractConfig{}, fmt.Errorf("invalid engine mode %q", value)
			}
			cfg.setVariable(EngineModeVariable, value)
		case "-c":
			name, v, ok := strings.Cut(value, "=")
			if !ok || name == "" {
				return TesseractConfig{}, fmt.Errorf("invalid tesseract variable %q", value)
			}
			cfg.setVariable(name, v)
		}
	}
	return cfg, nil
}

func (c *TesseractConfig) setVariable(name, value string) {
	if c.Variables == nil {
		c.Variables = make(map[string]string)
	}
	c.Variables[name] = value
}
