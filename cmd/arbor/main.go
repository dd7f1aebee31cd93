package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/mbellward/arbor"
	"github.com/mbellward/arbor/config"
	"github.com/mbellward/arbor/hierarchy"
	"github.com/mbellward/arbor/internal/util"
	"github.com/mbellward/arbor/memstore"
	"github.com/mbellward/arbor/treedef"
	"github.com/mbellward/arbor/undoredo"
)

func main() {
	var (
		treePath   string
		configPath string
		verbose    int
		withUndo   bool
		showAttrs  bool
	)
	pflag.StringVarP(&treePath, "tree", "t", "", "Path to a tree definition file (yaml or json)")
	pflag.StringVarP(&configPath, "config", "c", "", "Path to a config override file")
	pflag.IntVarP(&verbose, "verbose", "v", 3, "Log verbosity level between 1 (error) and 5 (trace). Default is 3 (info).")
	pflag.BoolVar(&withUndo, "undo", false, "Attach an undo/redo recorder to the container")
	pflag.BoolVar(&showAttrs, "attrs", false, "Include attribute counts in the dump")
	pflag.Parse()

	cfg := config.NewConfig(&config.ConfigOverride{LogLvl: &verbose})
	if configPath != "" {
		override, err := config.LoadConfigOverrideFile(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg.Merge(override)
	}

	util.InitializeLogger(cfg.LogLvl)
	logger := util.GetLogger("main")

	container, err := hierarchy.NewContainer(memstore.New(), hierarchy.Options{Config: cfg})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open container")
	}
	defer container.Close()

	if withUndo {
		container.SetUndoLog(undoredo.NewRecorder(container))
		logger.Debug().Msg("Undo/redo recorder attached")
	}

	if treePath == "" {
		logger.Warn().Msg("No tree definition provided; dumping an empty container")
	} else {
		def, err := treedef.LoadFile(treePath)
		if err != nil {
			logger.Fatal().Err(err).Str("tree", treePath).Msg("Failed to load tree definition")
		}
		if err := def.Apply(container); err != nil {
			logger.Fatal().Err(err).Str("tree", treePath).Msg("Failed to apply tree definition")
		}
	}

	if err := dump(container, showAttrs); err != nil {
		logger.Fatal().Err(err).Msg("Failed to dump container tree")
	}
}

// dump prints the visible tree depth-first, one node per line.
func dump(c *hierarchy.Container, showAttrs bool) error {
	fmt.Println("/")
	return c.Root().Walk(func(n *hierarchy.Node) error {
		indent := strings.Repeat("  ", n.Depth()-1)
		line := fmt.Sprintf("%s%s [%s]", indent, n.Name(), n.Kind())
		if n.Kind() == arbor.LeafKind {
			data, err := n.Data()
			if err != nil {
				return err
			}
			line += fmt.Sprintf(" %dB", len(data))
		}
		if showAttrs {
			attrs, err := n.Attrs()
			if err != nil {
				return err
			}
			if attrs.Len() > 0 {
				line += fmt.Sprintf(" attrs=%d", attrs.Len())
			}
		}
		fmt.Println(line)
		return nil
	})
}
