package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/CyberP1ngu/tlgconv/bod"
	"github.com/CyberP1ngu/tlgconv/cdat"
	"github.com/CyberP1ngu/tlgconv/converter"
	"github.com/qmuntal/gltf"
)

func defaultOutputFile(input string) string {
	ext := filepath.Ext(input)
	return input[0:len(input)-len(ext)] + ".glb"
}

// ensureTextures converts dumped .GNF textures to .dds with the
// external converter so the material step can read them. Already
// converted files are left alone.
func ensureTextures(l *bod.Loader, textureDir, tool string) {
	if textureDir == "" {
		return
	}
	seen := map[string]bool{}
	for _, def := range l.Materials {
		for _, pair := range converter.MaterialTextures(def, l.Variants[bod.BaseName(def.Name)]) {
			name := pair.Name
			if i := strings.LastIndex(name, "/"); i >= 0 {
				name = name[i+1:]
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			dds := filepath.Join(textureDir, name+".dds")
			if _, err := os.Stat(dds); err == nil {
				continue
			}
			gnf := filepath.Join(textureDir, name+".GNF")
			if _, err := os.Stat(gnf); err != nil {
				continue
			}
			log.Println("converting texture:", gnf)
			if out, err := exec.Command(tool, gnf).CombinedOutput(); err != nil {
				log.Printf("texture conversion failed: %v: %s", err, out)
			}
		}
	}
}

func convert(input, output string, animInputs []string, conf *converter.Config, workers int) error {
	l, err := bod.Load(input, &bod.Options{Workers: workers})
	if err != nil {
		return err
	}

	textureDir := conf.TextureDir
	if textureDir == "" {
		textureDir = converter.FindTextureDir(l.Dir, l.ProjectRoot)
	}
	if conf.TexConverter != "" {
		ensureTextures(l, textureDir, conf.TexConverter)
	}

	conv := converter.NewBODToGLTFConverter(&converter.BODToGLTFOption{
		Scale:            conf.Scale,
		TextureDir:       textureDir,
		TextureScale:     conf.TextureScale,
		TextureOverrides: conf.TextureOverrides,
	})
	doc, err := conv.Convert(l)
	if err != nil {
		return err
	}

	scale := conf.Scale
	if scale == 0 {
		scale = 1
	}
	for _, f := range animInputs {
		clips, err := cdat.ReadAnimation(f, &cdat.Options{QuatTolerance: conf.QuatTolerance})
		if err != nil {
			log.Printf("%s: %v", filepath.Base(f), err)
			continue
		}
		for _, clip := range clips {
			log.Printf("clip %q: %d frames at %g fps", clip.Name, clip.FrameCount, clip.FrameRate)
			converter.AddClipToGlb(doc, clip, conv.NodeByBone, conv.RestPose, scale)
		}
	}

	return gltf.SaveBinary(doc, output)
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s scene.bod [anim.data ...] [output.glb]\n", os.Args[0])
		flag.PrintDefaults()
	}
	scale := flag.Float64("scale", 0, "scale applied to positions (0: from config, else 1)")
	configFile := flag.String("config", "", "YAML config file")
	texconv := flag.String("texconv", "", "GNF to DDS converter executable")
	texdir := flag.String("texdir", "", "texture directory (default: project layout)")
	texscale := flag.Float64("texscale", 0, "scale applied to embedded textures")
	workers := flag.Int("workers", 4, "parallel file parses")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return
	}
	input := flag.Arg(0)
	output := ""
	inputN := flag.NArg() - 1
	if inputN < 1 || strings.ToLower(filepath.Ext(flag.Arg(inputN))) != ".glb" {
		inputN = flag.NArg()
		output = defaultOutputFile(input)
	} else {
		output = flag.Arg(inputN)
	}

	conf := &converter.Config{}
	if *configFile != "" {
		c, err := converter.LoadConfig(*configFile)
		if err != nil {
			log.Fatal(err)
		}
		conf = c
	}
	if *scale != 0 {
		conf.Scale = float32(*scale)
	}
	if *texconv != "" {
		conf.TexConverter = *texconv
	}
	if *texdir != "" {
		conf.TextureDir = *texdir
	}
	if *texscale != 0 {
		conf.TextureScale = float32(*texscale)
	}

	if err := convert(input, output, flag.Args()[1:inputN], conf, *workers); err != nil {
		log.Fatal(err)
	}
	log.Println("wrote", output)
}
