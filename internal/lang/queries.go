package lang

// querySources holds the per-language S-expression query sources.
//
// Capture conventions shared by every language, relied on by the extractor:
//
//	symbols:    @def.<kind> on the definition node, @name on its identifier
//	references: @ref.<kind> on the use site, @name on the referenced name
//	imports:    @import on the statement, @source on the module path,
//	            @name on an imported symbol, @fn for call-style importers
//	scopes:     @scope.<kind> on the region node, @name when the region
//	            has one
type querySource struct {
	symbols    string
	references string
	imports    string
	scopes     string
}

var querySources = map[string]querySource{
	"go": {
		symbols: `
			(function_declaration name: (identifier) @name) @def.function
			(method_declaration name: (field_identifier) @name) @def.method
			(type_declaration (type_spec name: (type_identifier) @name type: (struct_type))) @def.struct
			(type_declaration (type_spec name: (type_identifier) @name type: (interface_type))) @def.interface
			(type_declaration (type_spec name: (type_identifier) @name type: [(type_identifier) (pointer_type) (map_type) (slice_type) (array_type) (function_type) (qualified_type) (channel_type)])) @def.type_alias
			(const_declaration (const_spec name: (identifier) @name)) @def.constant
			(var_declaration (var_spec name: (identifier) @name)) @def.variable
			(field_declaration name: (field_identifier) @name) @def.field
			(package_clause (package_identifier) @name) @def.module
		`,
		references: `
			(call_expression function: (identifier) @name) @ref.call
			(call_expression function: (selector_expression field: (field_identifier) @name)) @ref.call
			(composite_literal type: (type_identifier) @name) @ref.type
			(type_identifier) @name @ref.type
			(selector_expression field: (field_identifier) @name) @ref.field
		`,
		imports: `
			(import_spec path: (interpreted_string_literal) @source) @import
		`,
		scopes: `
			(function_declaration name: (identifier) @name body: (block)) @scope.function
			(method_declaration name: (field_identifier) @name body: (block)) @scope.function
			(func_literal) @scope.function
			(block) @scope.block
		`,
	},

	"python": {
		symbols: `
			(function_definition name: (identifier) @name) @def.function
			(class_definition name: (identifier) @name) @def.class
			(module (expression_statement (assignment left: (identifier) @name))) @def.variable
		`,
		references: `
			(call function: (identifier) @name) @ref.call
			(call function: (attribute attribute: (identifier) @name)) @ref.call
			(class_definition superclasses: (argument_list (identifier) @name)) @ref.extend
			(attribute attribute: (identifier) @name) @ref.field
		`,
		imports: `
			(import_statement name: (dotted_name) @source) @import
			(import_statement name: (aliased_import name: (dotted_name) @source)) @import
			(import_from_statement module_name: (dotted_name) @source name: (dotted_name) @name) @import
			(import_from_statement module_name: (relative_import) @source) @import
		`,
		scopes: `
			(function_definition name: (identifier) @name) @scope.function
			(class_definition name: (identifier) @name) @scope.class
		`,
	},

	"typescript": {
		symbols: `
			(function_declaration name: (identifier) @name) @def.function
			(class_declaration name: (type_identifier) @name) @def.class
			(method_definition name: (property_identifier) @name) @def.method
			(interface_declaration name: (type_identifier) @name) @def.interface
			(type_alias_declaration name: (type_identifier) @name) @def.type_alias
			(enum_declaration name: (identifier) @name) @def.enum
			(public_field_definition name: (property_identifier) @name) @def.field
			(variable_declarator name: (identifier) @name) @def.variable
		`,
		references: `
			(call_expression function: (identifier) @name) @ref.call
			(call_expression function: (member_expression property: (property_identifier) @name)) @ref.call
			(new_expression constructor: (identifier) @name) @ref.type
			(type_identifier) @name @ref.type
			(extends_clause (identifier) @name) @ref.extend
			(member_expression property: (property_identifier) @name) @ref.field
		`,
		imports: `
			(import_statement source: (string (string_fragment) @source)) @import
			(import_specifier name: (identifier) @name) @import
		`,
		scopes: `
			(function_declaration name: (identifier) @name) @scope.function
			(method_definition name: (property_identifier) @name) @scope.function
			(arrow_function) @scope.function
			(class_declaration name: (type_identifier) @name) @scope.class
			(statement_block) @scope.block
		`,
	},

	"javascript": {
		symbols: `
			(function_declaration name: (identifier) @name) @def.function
			(class_declaration name: (identifier) @name) @def.class
			(method_definition name: (property_identifier) @name) @def.method
			(variable_declarator name: (identifier) @name) @def.variable
		`,
		references: `
			(call_expression function: (identifier) @name) @ref.call
			(call_expression function: (member_expression property: (property_identifier) @name)) @ref.call
			(new_expression constructor: (identifier) @name) @ref.type
			(class_heritage (identifier) @name) @ref.extend
			(member_expression property: (property_identifier) @name) @ref.field
		`,
		imports: `
			(import_statement source: (string (string_fragment) @source)) @import
			(import_specifier name: (identifier) @name) @import
		`,
		scopes: `
			(function_declaration name: (identifier) @name) @scope.function
			(method_definition name: (property_identifier) @name) @scope.function
			(arrow_function) @scope.function
			(class_declaration name: (identifier) @name) @scope.class
			(statement_block) @scope.block
		`,
	},

	"rust": {
		symbols: `
			(function_item name: (identifier) @name) @def.function
			(struct_item name: (type_identifier) @name) @def.struct
			(enum_item name: (type_identifier) @name) @def.enum
			(enum_variant name: (identifier) @name) @def.enum_member
			(trait_item name: (type_identifier) @name) @def.trait
			(type_item name: (type_identifier) @name) @def.type_alias
			(const_item name: (identifier) @name) @def.constant
			(static_item name: (identifier) @name) @def.variable
			(field_declaration name: (field_identifier) @name) @def.field
			(mod_item name: (identifier) @name) @def.module
			(macro_definition name: (identifier) @name) @def.macro
		`,
		references: `
			(call_expression function: (identifier) @name) @ref.call
			(call_expression function: (field_expression field: (field_identifier) @name)) @ref.call
			(call_expression function: (scoped_identifier name: (identifier) @name)) @ref.call
			(type_identifier) @name @ref.type
			(field_expression field: (field_identifier) @name) @ref.field
		`,
		imports: `
			(use_declaration argument: (scoped_identifier) @source) @import
			(use_declaration argument: (identifier) @source) @import
			(use_declaration argument: (use_wildcard) @source) @import
			(use_declaration argument: (scoped_use_list path: (scoped_identifier) @source)) @import
			(use_declaration argument: (scoped_use_list path: (identifier) @source)) @import
		`,
		scopes: `
			(function_item name: (identifier) @name) @scope.function
			(impl_item) @scope.class
			(mod_item name: (identifier) @name) @scope.module
			(block) @scope.block
		`,
	},

	"java": {
		symbols: `
			(class_declaration name: (identifier) @name) @def.class
			(interface_declaration name: (identifier) @name) @def.interface
			(method_declaration name: (identifier) @name) @def.method
			(constructor_declaration name: (identifier) @name) @def.method
			(enum_declaration name: (identifier) @name) @def.enum
			(enum_constant name: (identifier) @name) @def.enum_member
			(field_declaration declarator: (variable_declarator name: (identifier) @name)) @def.field
		`,
		references: `
			(method_invocation name: (identifier) @name) @ref.call
			(object_creation_expression type: (type_identifier) @name) @ref.type
			(type_identifier) @name @ref.type
			(superclass (type_identifier) @name) @ref.extend
			(super_interfaces (type_list (type_identifier) @name)) @ref.extend
			(field_access field: (identifier) @name) @ref.field
		`,
		imports: `
			(import_declaration (scoped_identifier) @source) @import
		`,
		scopes: `
			(class_declaration name: (identifier) @name) @scope.class
			(interface_declaration name: (identifier) @name) @scope.class
			(method_declaration name: (identifier) @name) @scope.function
			(constructor_declaration name: (identifier) @name) @scope.function
			(block) @scope.block
		`,
	},

	"c": {
		symbols: `
			(function_definition declarator: (function_declarator declarator: (identifier) @name)) @def.function
			(struct_specifier name: (type_identifier) @name) @def.struct
			(enum_specifier name: (type_identifier) @name) @def.enum
			(enumerator name: (identifier) @name) @def.enum_member
			(type_definition declarator: (type_identifier) @name) @def.type_alias
			(declaration declarator: (init_declarator declarator: (identifier) @name)) @def.variable
			(field_declaration declarator: (field_identifier) @name) @def.field
			(preproc_function_def name: (identifier) @name) @def.macro
			(preproc_def name: (identifier) @name) @def.macro
		`,
		references: `
			(call_expression function: (identifier) @name) @ref.call
			(type_identifier) @name @ref.type
			(field_expression field: (field_identifier) @name) @ref.field
		`,
		imports: `
			(preproc_include path: (string_literal) @source) @import
			(preproc_include path: (system_lib_string) @source) @import
		`,
		scopes: `
			(function_definition declarator: (function_declarator declarator: (identifier) @name)) @scope.function
			(compound_statement) @scope.block
		`,
	},

	"cpp": {
		symbols: `
			(function_definition declarator: (function_declarator declarator: (identifier) @name)) @def.function
			(function_definition declarator: (function_declarator declarator: (field_identifier) @name)) @def.method
			(function_definition declarator: (function_declarator declarator: (qualified_identifier name: (identifier) @name))) @def.method
			(class_specifier name: (type_identifier) @name) @def.class
			(struct_specifier name: (type_identifier) @name) @def.struct
			(enum_specifier name: (type_identifier) @name) @def.enum
			(enumerator name: (identifier) @name) @def.enum_member
			(type_definition declarator: (type_identifier) @name) @def.type_alias
			(namespace_definition name: (namespace_identifier) @name) @def.namespace
			(field_declaration declarator: (field_identifier) @name) @def.field
			(preproc_function_def name: (identifier) @name) @def.macro
		`,
		references: `
			(call_expression function: (identifier) @name) @ref.call
			(call_expression function: (field_expression field: (field_identifier) @name)) @ref.call
			(call_expression function: (qualified_identifier name: (identifier) @name)) @ref.call
			(type_identifier) @name @ref.type
			(base_class_clause (type_identifier) @name) @ref.extend
			(field_expression field: (field_identifier) @name) @ref.field
		`,
		imports: `
			(preproc_include path: (string_literal) @source) @import
			(preproc_include path: (system_lib_string) @source) @import
		`,
		scopes: `
			(function_definition) @scope.function
			(class_specifier name: (type_identifier) @name) @scope.class
			(namespace_definition name: (namespace_identifier) @name) @scope.module
			(compound_statement) @scope.block
		`,
	},

	"ruby": {
		symbols: `
			(method name: (identifier) @name) @def.method
			(singleton_method name: (identifier) @name) @def.method
			(class name: (constant) @name) @def.class
			(module name: (constant) @name) @def.module
			(assignment left: (constant) @name) @def.constant
		`,
		references: `
			(call method: (identifier) @name) @ref.call
			(superclass (constant) @name) @ref.extend
			(call receiver: (_) method: (identifier) @name) @ref.field
		`,
		imports: `
			(call method: (identifier) @fn arguments: (argument_list (string (string_content) @source))) @import
		`,
		scopes: `
			(method name: (identifier) @name) @scope.function
			(singleton_method name: (identifier) @name) @scope.function
			(class name: (constant) @name) @scope.class
			(module name: (constant) @name) @scope.module
		`,
	},

	"php": {
		symbols: `
			(function_definition name: (name) @name) @def.function
			(method_declaration name: (name) @name) @def.method
			(class_declaration name: (name) @name) @def.class
			(interface_declaration name: (name) @name) @def.interface
			(trait_declaration name: (name) @name) @def.trait
			(enum_declaration name: (name) @name) @def.enum
			(namespace_definition name: (namespace_name) @name) @def.namespace
			(const_declaration (const_element (name) @name)) @def.constant
			(property_declaration (property_element (variable_name) @name)) @def.field
		`,
		references: `
			(function_call_expression function: (name) @name) @ref.call
			(member_call_expression name: (name) @name) @ref.call
			(object_creation_expression (name) @name) @ref.type
			(base_clause (name) @name) @ref.extend
			(member_access_expression name: (name) @name) @ref.field
		`,
		imports: `
			(namespace_use_declaration (namespace_use_clause (qualified_name) @source)) @import
			(namespace_use_declaration (namespace_use_clause (name) @source)) @import
		`,
		scopes: `
			(function_definition name: (name) @name) @scope.function
			(method_declaration name: (name) @name) @scope.function
			(class_declaration name: (name) @name) @scope.class
			(namespace_definition) @scope.module
		`,
	},
}
