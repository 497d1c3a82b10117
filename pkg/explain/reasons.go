package explain

// featureCauses maps known behavioral feature names to a one-sentence cause
// used when rendering reasons. Unknown features render as the bare key/value
// pair.
var featureCauses = map[string]string{
	"scriptCount":           "package declares an unusual number of lifecycle scripts",
	"scriptTotalLength":     "lifecycle scripts carry a large volume of code",
	"hasPostinstall":        "package runs a script automatically after install",
	"postinstallLength":     "postinstall hook contains substantial code",
	"preinstallLength":      "preinstall hook contains substantial code",
	"postuninstallLength":   "package hooks the uninstall step",
	"networkScriptCount":    "install scripts reach out to the network",
	"evalUsageCount":        "install scripts evaluate dynamically built code",
	"childProcessCount":     "install scripts spawn child processes",
	"fileSystemAccessCount": "install scripts touch files outside the package",
	"dependencyCount":       "package pulls in a large dependency surface",
	"devDependencyCount":    "package pulls in a large dev dependency surface",
}
