package bod

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Options controls dependency discovery around an entry file.
type Options struct {
	// Marker names the ancestor directory treated as the project root.
	// Compared case-insensitively. Default "GAME".
	Marker string
	// MaterialsDir is scanned recursively under the project root.
	// Default "MATERIALS".
	MaterialsDir string
	// Workers caps concurrent file parses. Values below 2 parse
	// sequentially.
	Workers int
}

// Loader holds the merged object graph of one load operation: the entry
// file, its same-directory siblings and the project's material library.
type Loader struct {
	// Dir is the directory of the entry file, where raw data buffers
	// and weight files live.
	Dir string
	// ProjectRoot is the marker ancestor, or "" if none was found.
	ProjectRoot string

	// Objects maps graph names to objects. On name collisions the
	// first parsed file wins.
	Objects map[string]Object
	// Order lists every object in file submission order, including
	// shadowed duplicates.
	Order []Object
	// Materials indexes every MaterialDefinition in the graph.
	Materials map[string]*MaterialDefinition
	// Variants maps a mesh base name to its render-variant materials,
	// keyed by "fresnel" or "fur".
	Variants map[string]map[string]*MaterialDefinition

	opt    Options
	loaded map[string]bool
}

// Load parses the entry file and every file that can contribute objects
// to its graph. A broken dependency file is logged and skipped; only a
// broken entry file is an error.
func Load(entry string, opt *Options) (*Loader, error) {
	o := Options{Marker: "GAME", MaterialsDir: "MATERIALS", Workers: 1}
	if opt != nil {
		if opt.Marker != "" {
			o.Marker = opt.Marker
		}
		if opt.MaterialsDir != "" {
			o.MaterialsDir = opt.MaterialsDir
		}
		if opt.Workers > 1 {
			o.Workers = opt.Workers
		}
	}
	abs, err := filepath.Abs(entry)
	if err != nil {
		return nil, err
	}
	l := &Loader{
		Dir:       filepath.Dir(abs),
		Objects:   map[string]Object{},
		Materials: map[string]*MaterialDefinition{},
		Variants:  map[string]map[string]*MaterialDefinition{},
		opt:       o,
		loaded:    map[string]bool{},
	}
	l.ProjectRoot = findProjectRoot(l.Dir, o.Marker)

	l.loaded[abs] = true
	doc, err := ParseFile(abs)
	if err != nil {
		return nil, err
	}
	l.merge(doc)

	l.loadDependencies(abs)
	l.indexMaterials()
	l.buildVariantMap()
	return l, nil
}

// findProjectRoot walks the path components of dir looking for the
// marker, uppercase or not, and returns the path up to and including it.
func findProjectRoot(dir, marker string) string {
	clean := filepath.Clean(dir)
	parts := strings.Split(clean, string(filepath.Separator))
	for i, part := range parts {
		if strings.EqualFold(part, marker) {
			root := strings.Join(parts[:i+1], string(filepath.Separator))
			if root == "" {
				root = string(filepath.Separator)
			}
			return root
		}
	}
	return ""
}

func (l *Loader) loadDependencies(entry string) {
	ext := filepath.Ext(entry)
	var files []string
	if matches, err := filepath.Glob(filepath.Join(l.Dir, "*"+ext)); err == nil {
		sort.Strings(matches)
		files = append(files, matches...)
	}
	if l.ProjectRoot == "" {
		log.Printf("bod: no %q ancestor above %s, skipping shared materials", l.opt.Marker, l.Dir)
	} else {
		matDir := filepath.Join(l.ProjectRoot, l.opt.MaterialsDir)
		if info, err := os.Stat(matDir); err == nil && info.IsDir() {
			files = append(files, globRecursive(matDir, ext)...)
		} else {
			log.Println("bod: materials directory not found:", matDir)
		}
	}
	l.parseBatch(files)
}

func globRecursive(root, ext string) []string {
	var files []string
	filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files
}

// parseBatch parses the given files, each at most once per Loader, and
// merges them in argument order so collision handling stays
// deterministic however many workers run.
func (l *Loader) parseBatch(paths []string) {
	var files []string
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil || l.loaded[abs] {
			continue
		}
		l.loaded[abs] = true
		files = append(files, abs)
	}
	docs := make([]*Document, len(files))
	if l.opt.Workers > 1 {
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < l.opt.Workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					docs[i] = parseLogged(files[i])
				}
			}()
		}
		for i := range files {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	} else {
		for i := range files {
			docs[i] = parseLogged(files[i])
		}
	}
	for _, doc := range docs {
		l.merge(doc)
	}
}

func parseLogged(path string) *Document {
	doc, err := ParseFile(path)
	if err != nil {
		log.Printf("bod: %s: %v", filepath.Base(path), err)
		return nil
	}
	return doc
}

func (l *Loader) merge(doc *Document) {
	if doc == nil {
		return
	}
	for _, obj := range doc.Objects {
		l.Order = append(l.Order, obj)
		if _, exists := l.Objects[obj.ObjectName()]; !exists {
			l.Objects[obj.ObjectName()] = obj
		}
	}
}

func (l *Loader) indexMaterials() {
	for _, obj := range l.Order {
		if m, ok := obj.(*MaterialDefinition); ok {
			if _, exists := l.Materials[m.Name]; !exists {
				l.Materials[m.Name] = m
			}
		}
	}
}

// buildVariantMap resolves each variant mesh's material through its
// first render extension and batch, and files it under the mesh's base
// name. A variant whose chain cannot be resolved is logged and skipped.
func (l *Loader) buildVariantMap() {
	for _, obj := range l.Order {
		mesh, ok := obj.(*Mesh)
		if !ok || len(mesh.Extensions) == 0 {
			continue
		}
		kind := VariantKind(mesh.Name)
		if kind == "" {
			continue
		}
		ext, _ := l.Objects[mesh.Extensions[0].Name].(*RenderExt)
		if ext == nil || len(ext.Batches) == 0 {
			log.Println("bod: variant mesh without render batches:", mesh.Name)
			continue
		}
		batch, _ := l.Objects[ext.Batches[0].Name].(*RenderBatch)
		if batch == nil {
			log.Println("bod: variant mesh with unresolved batch:", mesh.Name)
			continue
		}
		def := l.Materials[batch.MaterialDefinition.Name]
		if def == nil {
			log.Println("bod: variant mesh with unresolved material:", mesh.Name)
			continue
		}
		base := BaseName(mesh.Name)
		if l.Variants[base] == nil {
			l.Variants[base] = map[string]*MaterialDefinition{}
		}
		l.Variants[base][kind] = def
	}
}

// Object looks up a graph object by name.
func (l *Loader) Object(name string) Object {
	return l.Objects[name]
}

// SceneRoot returns the first SceneRoot in the graph, if any.
func (l *Loader) SceneRoot() *SceneRoot {
	for _, obj := range l.Order {
		if root, ok := obj.(*SceneRoot); ok {
			return root
		}
	}
	return nil
}

// FindSkinCluster returns the first cluster whose name ends with the
// render extension's name. Clusters are named after the mesh they skin
// with a per-file prefix.
func (l *Loader) FindSkinCluster(renderExtName string) *SkinCluster {
	for _, obj := range l.Order {
		if c, ok := obj.(*SkinCluster); ok && strings.HasSuffix(c.Name, renderExtName) {
			return c
		}
	}
	return nil
}

// WeightsFile locates the weight file exported next to the scene for
// the given render extension, or "" if none exists.
func (l *Loader) WeightsFile(renderExtName string) string {
	matches, err := filepath.Glob(filepath.Join(l.Dir, "*_"+renderExtName+".weights"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

// BufferPath maps a buffer reference to the raw data file exported next
// to the scene. Reference names may carry a path prefix; only the last
// component names the file.
func (l *Loader) BufferPath(ref Ref) string {
	if !ref.IsValid() {
		return ""
	}
	name := ref.Name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return filepath.Join(l.Dir, name+".data")
}
