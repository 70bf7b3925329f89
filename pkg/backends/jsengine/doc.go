// Package jsengine embeds a JavaScript runtime (goja) as a scripting
// backend.
//
// Guest values are owned by the runtime's garbage collector, so values
// carry scripting.GCHandle and copying or releasing them is free. Measure
// files are CommonJS modules: classes are discovered through module.exports.
//
//	const { ModelMeasure } = require("openstudio");
//
//	class AddRoof extends ModelMeasure {
//	  run(args) {
//	    return { added: args.area };
//	  }
//	}
//
//	module.exports = { AddRoof };
//
// require() resolves bare module names in <home>/lib only. console output is
// written to the backend logger.
package jsengine
